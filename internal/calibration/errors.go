package calibration

import (
	"github.com/pkg/errors"
)

var (
	// ErrNotFound は読み込み先のファイルが存在しないことを示す
	ErrNotFound = errors.New("camera info file not found")
	// ErrParse はファイルの内容がYAMLマッピングとして解釈できないことを示す
	ErrParse = errors.New("camera info file could not be parsed")
	// ErrPersist はファイルの書き込みに失敗したことを示す
	ErrPersist = errors.New("camera info file could not be written")
)

// storeError は失敗の種類 (kind) と原因を両方保持する
type storeError struct {
	kind error
	path string
	err  error
}

func (e *storeError) Error() string {
	if e.err == nil {
		return e.kind.Error() + ": " + e.path
	}
	return e.kind.Error() + ": " + e.path + ": " + e.err.Error()
}

func (e *storeError) Unwrap() error { return e.err }

func (e *storeError) Is(target error) bool { return target == e.kind }

func newStoreError(kind error, path string, err error) error {
	return errors.WithStack(&storeError{kind: kind, path: path, err: err})
}
