package signaling

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
	"gitlab.com/audioparty/backend/internal/models"
)

// The relay is blind: it neither parses payloads nor checks that target
// shares a room with the sender. A target that is not connected is dropped
// without telling the sender.

func (s *Service) handleOffer(client *Client, msg models.InboundMessage) {
	var content models.OfferRequest
	if err := json.Unmarshal(msg.Content, &content); err != nil {
		s.log.WithError(err).Warn("Invalid offer content")
		return
	}
	s.RelayOffer(client.ID, content.Target, content.Offer)
}

func (s *Service) handleAnswer(client *Client, msg models.InboundMessage) {
	var content models.AnswerRequest
	if err := json.Unmarshal(msg.Content, &content); err != nil {
		s.log.WithError(err).Warn("Invalid answer content")
		return
	}
	s.RelayAnswer(client.ID, content.Target, content.Answer)
}

func (s *Service) handleICECandidate(client *Client, msg models.InboundMessage) {
	var content models.CandidateRequest
	if err := json.Unmarshal(msg.Content, &content); err != nil {
		s.log.WithError(err).Warn("Invalid ICE candidate content")
		return
	}
	s.RelayCandidate(client.ID, content.Target, content.Candidate)
}

// RelayOffer forwards an offer to targetID tagged with senderID.
func (s *Service) RelayOffer(senderID, targetID string, offer json.RawMessage) bool {
	return s.relay(senderID, targetID, models.WSMessage{
		Type:    models.EventOffer,
		Content: models.RelayedOffer{Offer: offer, Sender: senderID},
	})
}

// RelayAnswer forwards an answer to targetID tagged with senderID.
func (s *Service) RelayAnswer(senderID, targetID string, answer json.RawMessage) bool {
	return s.relay(senderID, targetID, models.WSMessage{
		Type:    models.EventAnswer,
		Content: models.RelayedAnswer{Answer: answer, Sender: senderID},
	})
}

// RelayCandidate forwards a connectivity candidate to targetID tagged with senderID.
func (s *Service) RelayCandidate(senderID, targetID string, candidate json.RawMessage) bool {
	return s.relay(senderID, targetID, models.WSMessage{
		Type:    models.EventICECandidate,
		Content: models.RelayedCandidate{Candidate: candidate, Sender: senderID},
	})
}

func (s *Service) relay(senderID, targetID string, msg models.WSMessage) bool {
	logCtx := s.log.WithFields(logrus.Fields{
		"type": msg.Type,
		"from": shortID(senderID),
		"to":   shortID(targetID),
	})
	if targetID == "" {
		logCtx.Debug("No target in signaling message")
		return false
	}
	if !s.sendTo(targetID, msg) {
		return false
	}
	logCtx.Debug("Relayed signaling message")
	return true
}
