package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// Payload encodings accepted by POST /api/v1/publish.
const (
	EncodingText   = "text"
	EncodingBase64 = "base64"
)

// PublishRequest is the body of POST /api/v1/publish.
type PublishRequest struct {
	Topic    string `json:"topic"`
	QoS      int    `json:"qos"`
	Payload  string `json:"payload"`
	Encoding string `json:"encoding,omitempty"`
}

// PublishResponse acknowledges a completed publish.
type PublishResponse struct {
	Status string `json:"status"`
	Topic  string `json:"topic"`
	QoS    int    `json:"qos"`
	Bytes  int    `json:"bytes"`
}

// handlePublish sends a single message through the client facade.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		writeUnavailable(w, "mqtt client is not connected")
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	qos, err := transport.ParseQoS(req.QoS)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	var payload []byte
	switch req.Encoding {
	case "", EncodingText:
		payload = []byte(req.Payload)
	case EncodingBase64:
		payload, err = base64.StdEncoding.DecodeString(req.Payload)
		if err != nil {
			writeBadRequest(w, "payload is not valid base64")
			return
		}
	default:
		writeBadRequest(w, "encoding must be text or base64")
		return
	}

	if err := s.publisher.Publish(r.Context(), req.Topic, qos, payload); err != nil {
		if !isValidationError(err) {
			s.logger.Warn("api publish failed", "topic", req.Topic, "error", err)
		}
		writeRequestError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PublishResponse{
		Status: "published",
		Topic:  req.Topic,
		QoS:    int(qos),
		Bytes:  len(payload),
	})
}

