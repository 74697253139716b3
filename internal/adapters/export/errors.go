package export

import "errors"

var (
	ErrDumpDirMissing = errors.New("dump directory does not exist")
	ErrBucketRequired = errors.New("s3 bucket is required")
)
