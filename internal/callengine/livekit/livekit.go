package livekit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"
	"github.com/twitchtv/twirp"

	"github.com/vovakirdan/meet-server/internal/callengine"
)

const (
	defaultRequestTimeout = 10 * time.Second
	adminTokenTTL         = time.Minute
)

// Config holds what the engine needs to talk to a LiveKit deployment.
type Config struct {
	APIKey    string
	APISecret string
	// WSURL is the websocket URL of the LiveKit server (wss://...).
	WSURL          string
	RequestTimeout time.Duration
	// HTTPClient is shared by all admin API calls. Defaults to a dedicated client.
	HTTPClient *http.Client
}

// LiveKitEngine implements callengine.RoomService and callengine.TokenSigner on top of LiveKit.
type LiveKitEngine struct {
	apiKey    string
	apiSecret string
	timeout   time.Duration
	rooms     lkproto.RoomService
}

// New creates a new LiveKitEngine. One engine, and one pooled HTTP client, serves the whole process.
// An empty or unparsable WSURL leaves the engine without a room service; its RoomService
// methods then return callengine.ErrServiceNotConfigured.
func New(cfg Config) *LiveKitEngine {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	e := &LiveKitEngine{
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		timeout:   timeout,
	}

	if host, err := AdminURL(cfg.WSURL); err == nil {
		client := cfg.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: timeout}
		}
		e.rooms = lkproto.NewRoomServiceProtobufClient(host, client)
	}

	return e
}

// AdminURL derives the admin API base from a websocket URL (wss -> https, ws -> http).
func AdminURL(wsURL string) (string, error) {
	if wsURL == "" {
		return "", callengine.ErrServiceNotConfigured
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse livekit url: %w", err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	case "https", "http":
	default:
		return "", fmt.Errorf("unsupported livekit url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("livekit url %q has no host", wsURL)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

// Ready reports whether tokens can be signed.
func (e *LiveKitEngine) Ready() error {
	if e.apiKey == "" || e.apiSecret == "" {
		return callengine.ErrSignerNotConfigured
	}
	return nil
}

// Sign issues a LiveKit access token carrying the claims.
func (e *LiveKitEngine) Sign(claims callengine.Claims, ttl time.Duration) (string, error) {
	if err := e.Ready(); err != nil {
		return "", err
	}

	at := auth.NewAccessToken(e.apiKey, e.apiSecret)
	at.SetVideoGrant(videoGrant(claims.Grant)).
		SetIdentity(claims.Identity).
		SetValidFor(ttl)
	if claims.Name != "" {
		at.SetName(claims.Name)
	}
	if claims.Metadata != "" {
		at.SetMetadata(claims.Metadata)
	}

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// ListRooms returns the rooms whose names are listed.
func (e *LiveKitEngine) ListRooms(ctx context.Context, names []string) ([]callengine.Room, error) {
	ctx, cancel, err := e.adminContext(ctx, &auth.VideoGrant{RoomList: true})
	if err != nil {
		return nil, err
	}
	defer cancel()

	resp, err := e.rooms.ListRooms(ctx, &lkproto.ListRoomsRequest{Names: names})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	rooms := make([]callengine.Room, 0, len(resp.GetRooms()))
	for _, r := range resp.GetRooms() {
		rooms = append(rooms, fromProto(r))
	}
	return rooms, nil
}

// CreateRoom creates a room with the given policy.
func (e *LiveKitEngine) CreateRoom(ctx context.Context, name string, policy callengine.RoomPolicy) (*callengine.Room, error) {
	ctx, cancel, err := e.adminContext(ctx, &auth.VideoGrant{RoomCreate: true})
	if err != nil {
		return nil, err
	}
	defer cancel()

	room, err := e.rooms.CreateRoom(ctx, &lkproto.CreateRoomRequest{
		Name:            name,
		EmptyTimeout:    uint32(policy.EmptyTimeout / time.Second),
		MaxParticipants: uint32(policy.MaxParticipants),
	})
	if err != nil {
		var twerr twirp.Error
		if errors.As(err, &twerr) && twerr.Code() == twirp.AlreadyExists {
			return nil, fmt.Errorf("create room %q: %w", name, callengine.ErrRoomExists)
		}
		return nil, fmt.Errorf("create room %q: %w", name, err)
	}

	out := fromProto(room)
	return &out, nil
}

// ReceiveWebhook reads and authenticates a webhook request sent by the LiveKit server.
func (e *LiveKitEngine) ReceiveWebhook(r *http.Request) (*lkproto.WebhookEvent, error) {
	if err := e.Ready(); err != nil {
		return nil, err
	}
	return webhook.ReceiveWebhookEvent(r, auth.NewSimpleKeyProvider(e.apiKey, e.apiSecret))
}

// adminContext attaches a short-lived admin token to ctx and bounds the call with the request timeout.
func (e *LiveKitEngine) adminContext(ctx context.Context, grant *auth.VideoGrant) (context.Context, context.CancelFunc, error) {
	if e.rooms == nil || e.apiKey == "" || e.apiSecret == "" {
		return nil, nil, callengine.ErrServiceNotConfigured
	}

	token, err := auth.NewAccessToken(e.apiKey, e.apiSecret).
		SetVideoGrant(grant).
		SetValidFor(adminTokenTTL).
		ToJWT()
	if err != nil {
		return nil, nil, fmt.Errorf("generate admin token: %w", err)
	}

	header := make(http.Header)
	header.Set("Authorization", "Bearer "+token)

	ctx, err = twirp.WithHTTPRequestHeaders(ctx, header)
	if err != nil {
		return nil, nil, fmt.Errorf("attach admin token: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	return ctx, cancel, nil
}

func videoGrant(g callengine.Grant) *auth.VideoGrant {
	canPublish := g.CanPublish
	canPublishData := g.CanPublishData
	canSubscribe := g.CanSubscribe

	grant := &auth.VideoGrant{
		Room:           g.Room,
		RoomJoin:       g.RoomJoin,
		RoomAdmin:      g.RoomAdmin,
		RoomList:       g.RoomList,
		RoomRecord:     g.RoomRecord,
		CanPublish:     &canPublish,
		CanPublishData: &canPublishData,
		CanSubscribe:   &canSubscribe,
	}
	if g.CanUpdateOwnMetadata {
		canUpdate := true
		grant.CanUpdateOwnMetadata = &canUpdate
	}
	return grant
}

func fromProto(r *lkproto.Room) callengine.Room {
	return callengine.Room{
		Name:            r.GetName(),
		SID:             r.GetSid(),
		EmptyTimeout:    time.Duration(r.GetEmptyTimeout()) * time.Second,
		MaxParticipants: int(r.GetMaxParticipants()),
		NumParticipants: int(r.GetNumParticipants()),
	}
}

// Ensure LiveKitEngine implements the capability interfaces
var (
	_ callengine.RoomService = (*LiveKitEngine)(nil)
	_ callengine.TokenSigner = (*LiveKitEngine)(nil)
)
