package errutil

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

type CoreStatus string

const (
	StatusBadRequest          CoreStatus = "bad_request"
	StatusUnauthorized        CoreStatus = "unauthorized"
	StatusNotFound            CoreStatus = "not_found"
	StatusConflict            CoreStatus = "conflict"
	StatusUnprocessableEntity CoreStatus = "unprocessable_entity"
	StatusTimeout             CoreStatus = "timeout"
	StatusInternal            CoreStatus = "internal"
)

type transportCodes struct {
	http int
	grpc codes.Code
}

var statusTable = map[CoreStatus]transportCodes{
	StatusBadRequest:          {http.StatusBadRequest, codes.InvalidArgument},
	StatusUnauthorized:        {http.StatusUnauthorized, codes.Unauthenticated},
	StatusNotFound:            {http.StatusNotFound, codes.NotFound},
	StatusConflict:            {http.StatusConflict, codes.AlreadyExists},
	StatusUnprocessableEntity: {http.StatusUnprocessableEntity, codes.FailedPrecondition},
	StatusTimeout:             {http.StatusGatewayTimeout, codes.DeadlineExceeded},
	StatusInternal:            {http.StatusInternalServerError, codes.Internal},
}

// HTTPStatus is the response code the gin error middleware writes. Unknown
// statuses are 500.
func (s CoreStatus) HTTPStatus() int {
	if t, ok := statusTable[s]; ok {
		return t.http
	}
	return http.StatusInternalServerError
}

func (s CoreStatus) GRPCCode() codes.Code {
	if t, ok := statusTable[s]; ok {
		return t.grpc
	}
	return codes.Unknown
}
