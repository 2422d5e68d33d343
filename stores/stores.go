package stores

import (
	"os"

	"cragline/core"
	"cragline/stores/aws"
	"cragline/stores/filesystem"
	"cragline/stores/memory"
	"cragline/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// GetRecordStore builds the record store selected by STORAGE_TYPE.
// Configuration is read once here, at startup; nothing else in the module
// touches the environment.
func GetRecordStore() core.RecordStore {
	storageType := os.Getenv("STORAGE_TYPE")

	fields := logrus.Fields{"storageType": storageType}

	var store core.RecordStore
	switch storageType {
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "cragline.db"
		}
		fields["dataSourceName"] = dataSourceName
		store = sqlite.NewRecordStore(dataSourceName)
	default:
		store = memory.NewRecordStore()
		fields["storageType"] = "in-memory"
	}
	logrus.WithFields(fields).Info("Use record storage")
	return store
}

// GetBlobStore builds the blob store selected by BLOB_STORAGE_TYPE.
func GetBlobStore() core.BlobStore {
	storageType := os.Getenv("BLOB_STORAGE_TYPE")

	fields := logrus.Fields{"blobStorageType": storageType}

	var store core.BlobStore
	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./data"
		}
		baseURL := os.Getenv("PUBLIC_BASE_URL")
		if baseURL == "" {
			baseURL = "http://localhost:3002"
		}
		fields["basePath"] = basePath
		fields["baseURL"] = baseURL
		store = filesystem.NewBlobStore(basePath, baseURL)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 blob storage")
		}
		fields["bucketName"] = bucketName
		store = aws.NewBlobStore(bucketName, os.Getenv("S3_PUBLIC_BASE_URL"))
	default:
		store = memory.NewBlobStore()
		fields["blobStorageType"] = "in-memory"
	}
	logrus.WithFields(fields).Info("Use blob storage")
	return store
}
