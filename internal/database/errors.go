package database

import (
	"errors"

	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
)

// ServiceError classifies a store failure for the engines: missing rows
// become NOT_FOUND for resource/id, failed swaps become INVALID_STATE and
// everything else is STORAGE_UNAVAILABLE. Service errors pass through.
func ServiceError(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if svcerrors.GetServiceError(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return svcerrors.NotFound(resource, id)
	case errors.Is(err, ErrConflict):
		return svcerrors.ConcurrentUpdate(resource)
	default:
		return svcerrors.StorageUnavailable(err)
	}
}
