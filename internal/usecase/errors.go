package usecase

import (
	"errors"
	"fmt"
	"net/http"

	repo "github.com/omargamal1121/E-Commerce-API-V1-sub001/internal/repository"
)

// HTTPError は業務エラー（そのままレスポンスにする）
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

var (
	errUnauthorized   = NewHTTPError(http.StatusUnauthorized, "unauthorized")
	errOrderNotFound  = NewHTTPError(http.StatusNotFound, "order not found")
	errConcurrentEdit = NewHTTPError(http.StatusConflict, repo.ErrConcurrentUpdate.Error())
)

func errf(status int, format string, args ...any) error {
	return NewHTTPError(status, fmt.Sprintf(format, args...))
}
