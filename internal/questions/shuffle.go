package questions

import (
	"math/rand"

	"github.com/medprep/backend/internal/models"
)

// Shuffle returns a Fisher-Yates shuffled copy of questions. The input slice
// is not modified.
func Shuffle(questions []models.Question, rng *rand.Rand) []models.Question {
	shuffled := make([]models.Question, len(questions))
	copy(shuffled, questions)

	for i := len(shuffled) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	return shuffled
}
