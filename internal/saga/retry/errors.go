package retry

import "github.com/pkg/errors"

func errorsFromPanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.Errorf("%v", r)
}
