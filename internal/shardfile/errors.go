package shardfile

import (
	"errors"
	"io/fs"
	"os"
)

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err)
}
