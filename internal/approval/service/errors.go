package service

import (
	"errors"

	id "qcgate/pkg/domain"
	dErrors "qcgate/pkg/domain-errors"
	"qcgate/pkg/platform/sentinel"
)

// translate maps store sentinels onto domain codes once, at the service
// boundary. Errors already carrying a domain code keep it.
func translate(err error, notFound, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFound)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "an approval request is already pending for this subject and action")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func requestNotFound(err error, msg string) error {
	return translate(err, "approval request not found", msg)
}

func subjectNotFound(err error, msg string) error {
	return translate(err, "subject not found", msg)
}

func requirePrincipal(p id.Principal) error {
	if p.UserID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "missing principal")
	}
	return nil
}
