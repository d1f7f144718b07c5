package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/longregen/recite/internal/domain/models"
)

// Error codes returned in the API error envelope.
const (
	codeSessionConflict      = "SESSION_CONFLICT"
	codeSessionNotFound      = "SESSION_NOT_FOUND"
	codeSessionExpired       = "SESSION_EXPIRED"
	codeAnkiUnavailable      = "ANKI_UNAVAILABLE"
	codeInvalidRating        = "INVALID_RATING"
	codeInvalidRequest       = "INVALID_REQUEST"
	codeImageNotFound        = "IMAGE_NOT_FOUND"
	codeForbidden            = "FORBIDDEN"
	codeLiveKitNotConfigured = "LIVEKIT_NOT_CONFIGURED"
)

type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, errorResponse{Error: errorDetail{Code: code, Message: message}}, status)
}

func respondErrorDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	respondJSON(w, errorResponse{Error: errorDetail{Code: code, Message: message, Details: details}}, status)
}

// cardResponse is the card shape shared by the session and card
// endpoints. Image access goes through the proxy endpoint, never the
// raw filename.
type cardResponse struct {
	ID           int64   `json:"id"`
	QuestionHTML string  `json:"question_html"`
	AnswerHTML   string  `json:"answer_html"`
	DeckName     string  `json:"deck_name"`
	ImageURL     *string `json:"image_url"`
}

func toCardResponse(card *models.Card) *cardResponse {
	if card == nil {
		return nil
	}
	resp := &cardResponse{
		ID:           card.ID,
		QuestionHTML: card.Front,
		AnswerHTML:   card.Back,
		DeckName:     card.DeckName,
	}
	if card.HasImage() {
		url := imageURL(card.ID)
		resp.ImageURL = &url
	}
	return resp
}

func imageURL(cardID int64) string {
	return "/api/cards/" + strconv.FormatInt(cardID, 10) + "/image"
}
