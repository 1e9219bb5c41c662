package presence

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/syncpad/syncpad/internal/models"
)

func TestDisplayNameOrFallback(t *testing.T) {
	userID := uuid.MustParse("ab12cd34-0000-0000-0000-000000000000")

	require.Equal(t, "Grace", DisplayNameOrFallback(userID, "Grace"))
	require.Equal(t, "Grace", DisplayNameOrFallback(userID, "  Grace  "))

	// Blank name: "User " plus the first four characters of the id.
	require.Equal(t, "User ab12", DisplayNameOrFallback(userID, ""))
	require.Equal(t, "User ab12", DisplayNameOrFallback(userID, "   "))
}

func TestAvatarURL_Deterministic(t *testing.T) {
	userID := uuid.New()

	// Pure function: every client derives the same avatar for a user
	// without coordinating.
	require.Equal(t, AvatarURL(userID), AvatarURL(userID))
	require.NotEqual(t, AvatarURL(userID), AvatarURL(uuid.New()))
	require.Contains(t, AvatarURL(userID), userID.String())
}

func TestDecorate(t *testing.T) {
	roster := []models.Participant{
		{UserID: uuid.New(), DisplayName: "Ada"},
		{UserID: uuid.New(), DisplayName: "Grace"},
	}

	Decorate(roster)

	for _, p := range roster {
		require.Equal(t, AvatarURL(p.UserID), p.AvatarURL)
	}
}
