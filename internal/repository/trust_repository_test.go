package repository

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

func TestAffectedSubjects_SortedAndUnique(t *testing.T) {
	a := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000")
	b := uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000000")

	events := []models.TrustEvent{
		{SubjectID: b, EventType: models.TrustEventOrderCompleted},
		{SubjectID: a, EventType: models.TrustEventOrderCompleted},
		{SubjectID: b, EventType: models.TrustEventPositiveReview},
	}

	subjects := affectedSubjects(events)

	assert.Equal(t, []uuid.UUID{a, b}, subjects)

	// Порядок событий не влияет на порядок пересчёта — блокировки строк
	// счёта всегда берутся одинаково
	reversed := []models.TrustEvent{events[1], events[0], events[2]}
	assert.Equal(t, subjects, affectedSubjects(reversed))

	for i := 1; i < len(subjects); i++ {
		assert.True(t, bytes.Compare(subjects[i-1][:], subjects[i][:]) < 0)
	}
}

func TestAffectedSubjects_Empty(t *testing.T) {
	assert.Empty(t, affectedSubjects(nil))
}
