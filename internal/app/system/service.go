package system

import "context"

// Service is a lifecycle-managed component such as the HTTP server or a
// background sweeper.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
