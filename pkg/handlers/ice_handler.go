package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"gitlab.com/audioparty/backend/internal/models"
)

// DefaultSTUNServers are handed out when no TURN provider is configured.
var DefaultSTUNServers = []models.ICEServer{
	{URLs: "stun:stun.l.google.com:19302"},
	{URLs: "stun:stun1.l.google.com:19302"},
}

type IceHandler struct {
	fetch func() ([]models.ICEServer, error)
	log   *logrus.Entry
}

// NewIceHandler uses Twilio Network Traversal tokens when credentials are
// given and public STUN servers otherwise.
func NewIceHandler(accountSid, authToken string) *IceHandler {
	h := &IceHandler{log: logrus.WithField("component", "ice")}
	if accountSid == "" || authToken == "" {
		h.log.Info("Twilio not configured, serving STUN servers only")
		return h
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})
	h.fetch = func() ([]models.ICEServer, error) {
		return twilioServers(client)
	}
	return h
}

func twilioServers(client *twilio.RestClient) ([]models.ICEServer, error) {
	ttl := 86400
	token, err := client.Api.CreateToken(&twilioApi.CreateTokenParams{
		Ttl: &ttl,
	})
	if err != nil {
		return nil, err
	}
	if token.IceServers == nil {
		return nil, nil
	}

	// Convert Twilio ICE servers to generic format
	servers := make([]models.ICEServer, 0, len(*token.IceServers))
	for _, server := range *token.IceServers {
		url := server.Urls
		if url == "" {
			url = server.Url
		}
		servers = append(servers, models.ICEServer{
			URLs:       url,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}
	return servers, nil
}

// Servers returns the provider's servers, falling back to STUN on failure.
func (h *IceHandler) Servers() []models.ICEServer {
	if h.fetch == nil {
		return DefaultSTUNServers
	}

	servers, err := h.fetch()
	if err != nil {
		h.log.WithError(err).Warn("Failed to get ICE servers from Twilio, falling back to STUN")
		return DefaultSTUNServers
	}
	if len(servers) == 0 {
		return DefaultSTUNServers
	}
	return servers
}

func (h *IceHandler) GetIceServers(w http.ResponseWriter, r *http.Request) {
	servers := h.Servers()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"iceServers": servers,
	})

	h.log.WithField("count", len(servers)).Debug("Returned ICE servers")
}
