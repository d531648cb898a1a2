package wrapper

import (
	"context"
	"time"

	"github.com/core-tools/hsu-service-wrapper/pkg/domain"
	"github.com/core-tools/hsu-service-wrapper/pkg/logging"
)

// NewWrapperHandler serves the control contract from a live wrapper.
func NewWrapperHandler(w *Wrapper, logger logging.Logger) domain.Contract {
	return &wrapperHandler{
		wrapper: w,
		logger:  logger,
	}
}

type wrapperHandler struct {
	wrapper *Wrapper
	logger  logging.Logger
}

func (h *wrapperHandler) Status(ctx context.Context) (*domain.StatusInfo, error) {
	status := h.wrapper.Status()
	info := &domain.StatusInfo{
		ServiceID:  status.ServiceID,
		Name:       status.Name,
		Phase:      string(status.Phase),
		RunID:      status.RunID,
		PID:        status.PID,
		Exited:     status.Exited,
		Extensions: status.Extensions,
		Warnings:   status.Warnings,
		LastError:  status.LastError,
	}
	if !status.StartedAt.IsZero() {
		info.StartedAt = status.StartedAt.UTC().Format(time.RFC3339)
	}
	h.logger.Debugf("Status handler done, id: %s, phase: %s", info.ServiceID, info.Phase)
	return info, nil
}
