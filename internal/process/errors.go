package process

import (
	"fmt"

	"github.com/jkaninda/procward/internal/domain"
)

func errNoProcess(h *Handle) error {
	if h == nil {
		return domain.ErrNoProcess
	}
	return fmt.Errorf("pid %d is %s: %w", h.pid, h.State(), domain.ErrNoProcess)
}

func isGone(err error) bool {
	return domain.IsProcessGone(err)
}
