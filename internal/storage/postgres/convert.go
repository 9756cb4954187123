package postgres

import (
	"strconv"
	"strings"

	"github.com/jkaninda/procward/internal/domain"
)

func toSessionModel(r *domain.SessionRecord) SessionModel {
	return SessionModel{
		ID:             r.ID,
		Command:        r.Command,
		PID:            r.PID,
		ProcessName:    r.ProcessName,
		Priority:       r.Priority.String(),
		Affinity:       joinCores(r.Affinity),
		NetworkBlocked: r.NetworkBlocked,
		LogPath:        r.LogPath,
		ReportPath:     r.ReportPath,
		State:          r.State,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
	}
}

func toSessionDomain(m *SessionModel) *domain.SessionRecord {
	// Unknown names fall back to the default level.
	priority, err := domain.ParsePriority(m.Priority)
	if err != nil {
		priority = domain.DefaultPriority
	}
	affinity, _ := domain.ParseAffinity(m.Affinity)
	return &domain.SessionRecord{
		ID:             m.ID,
		Command:        m.Command,
		PID:            m.PID,
		ProcessName:    m.ProcessName,
		Priority:       priority,
		Affinity:       affinity,
		NetworkBlocked: m.NetworkBlocked,
		LogPath:        m.LogPath,
		ReportPath:     m.ReportPath,
		State:          m.State,
		StartedAt:      m.StartedAt,
		EndedAt:        m.EndedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func joinCores(m domain.AffinityMask) string {
	parts := make([]string, len(m))
	for i, c := range m {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}
