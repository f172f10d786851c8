package api

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wppinbox/internal/bus"
	"github.com/matheus3301/wppinbox/internal/event"
	"github.com/matheus3301/wppinbox/internal/identity"
	"github.com/matheus3301/wppinbox/internal/inbox"
	"github.com/matheus3301/wppinbox/internal/outbound"
	"github.com/matheus3301/wppinbox/internal/status"
	"github.com/matheus3301/wppinbox/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// OutboundLog reads recorded send attempts.
type OutboundLog interface {
	ListOutbound(limit int) ([]store.OutboundEntry, error)
	CountOutbound(status string) (int, error)
}

// Info identifies the daemon in status replies and event envelopes.
type Info struct {
	Session string
	Gateway string
}

// Service implements InboxServer on top of the inbox store and the outbound
// adapter.
type Service struct {
	info      Info
	startedAt time.Time
	store     *inbox.Store
	adapter   *outbound.Adapter
	machine   *status.Machine
	bus       *bus.Bus
	log       OutboundLog
	logger    *zap.Logger
}

// NewService creates the service. log may be nil.
func NewService(info Info, s *inbox.Store, a *outbound.Adapter, m *status.Machine, b *bus.Bus, log OutboundLog, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		info:      info,
		startedAt: time.Now(),
		store:     s,
		adapter:   a,
		machine:   m,
		bus:       b,
		log:       log,
		logger:    logger,
	}
}

func (s *Service) GetStatus(_ context.Context, _ *StatusRequest) (*StatusReply, error) {
	convs, msgs, aliases := s.store.Stats()
	reply := &StatusReply{
		Session:       s.info.Session,
		Gateway:       s.info.Gateway,
		UptimeMS:      time.Since(s.startedAt).Milliseconds(),
		Active:        s.store.Active(),
		Conversations: convs,
		Messages:      msgs,
		Aliases:       aliases,
	}
	if s.machine != nil {
		reply.State = string(s.machine.Current())
		reply.StateSinceMS = s.machine.Since().UnixMilli()
	}
	if s.bus != nil {
		reply.DroppedEvents = s.bus.Dropped()
	}
	if s.log != nil {
		if n, err := s.log.CountOutbound(store.OutboundSent); err == nil {
			reply.OutboundSent = n
		}
		if n, err := s.log.CountOutbound(store.OutboundFailed); err == nil {
			reply.OutboundFailed = n
		}
	}
	return reply, nil
}

func (s *Service) ListChats(_ context.Context, req *ListChatsRequest) (*ListChatsReply, error) {
	chats := s.store.Project(req.Query)
	if chats == nil {
		chats = []inbox.Summary{}
	}
	return &ListChatsReply{Active: s.store.Active(), Chats: chats}, nil
}

func (s *Service) GetChat(_ context.Context, req *ChatRequest) (*Chat, error) {
	key := identity.FromInput(req.Key)
	if key == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "key is required")
	}
	c, ok := s.store.Get(key)
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "conversation %q not found", req.Key)
	}
	msgs := c.Messages
	if msgs == nil {
		msgs = []inbox.Message{}
	}
	return &Chat{
		Key:         c.Key,
		DisplayName: c.DisplayName(),
		Primary:     c.Primary,
		Alias:       c.Alias,
		Active:      c.Key == s.store.Active(),
		Messages:    msgs,
	}, nil
}

func (s *Service) SetActive(_ context.Context, req *ChatRequest) (*SetActiveReply, error) {
	key := identity.FromInput(req.Key)
	if key == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "key is required")
	}
	changed := s.store.SetActive(key)
	return &SetActiveReply{Active: s.store.Active(), Changed: changed}, nil
}

func (s *Service) SendText(ctx context.Context, req *SendTextRequest) (*SendReply, error) {
	msg, err := s.adapter.SendText(ctx, identity.FromInput(req.Key), req.Text)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SendReply{Key: msg.ChatKey, Target: msg.From, Message: msg}, nil
}

func (s *Service) SendMedia(ctx context.Context, req *SendMediaRequest) (*SendReply, error) {
	kind, ok := event.ParseMediaKind(req.Kind)
	if !ok {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "unknown media kind %q", req.Kind)
	}
	if req.Path == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "path is required")
	}
	f, err := outbound.ReadFile(req.Path)
	if err != nil {
		return nil, toStatus(err)
	}
	msg, err := s.adapter.SendMedia(ctx, identity.FromInput(req.Key), kind, f)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SendReply{Key: msg.ChatKey, Target: msg.From, Message: msg}, nil
}

func (s *Service) ListOutbound(_ context.Context, req *ListOutboundRequest) (*ListOutboundReply, error) {
	if s.log == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "outbound log not configured")
	}
	entries, err := s.log.ListOutbound(req.Limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list outbound: %v", err)
	}
	reply := &ListOutboundReply{Entries: make([]Outbound, 0, len(entries))}
	for _, e := range entries {
		reply.Entries = append(reply.Entries, outboundFromEntry(e))
	}
	return reply, nil
}

func (s *Service) Reset(_ context.Context, _ *ResetRequest) (*ResetReply, error) {
	r, err := s.store.Reset()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "reset: %v", err)
	}
	return &ResetReply{Conversations: r.Conversations, Messages: r.Messages, Aliases: r.Aliases}, nil
}

func (s *Service) WatchEvents(req *WatchRequest, stream EventStream) error {
	ch, unsub := s.bus.Subscribe(req.Prefix, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env := &Envelope{
				ID:           uuid.New().String(),
				Session:      s.info.Session,
				Kind:         evt.Kind,
				OccurredAtMS: evt.Timestamp.UnixMilli(),
				Payload:      evt.Payload,
			}
			if err := stream.Send(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// toStatus maps domain errors onto grpc codes.
func toStatus(err error) error {
	var sendErr *outbound.SendError
	switch {
	case errors.Is(err, outbound.ErrNoConversationKey),
		errors.Is(err, outbound.ErrEmptyMessage),
		errors.Is(err, outbound.ErrUnknownMediaKind):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, fs.ErrNotExist):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.As(err, &sendErr):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}
