package inbox

import (
	"slices"
	"sync"

	"github.com/matheus3301/wppinbox/internal/bus"
	"github.com/matheus3301/wppinbox/internal/event"
	"github.com/matheus3301/wppinbox/internal/identity"
	"go.uber.org/zap"
)

// conversation is the mutable form of Conversation.
type conversation struct {
	key      string
	primary  string
	alias    string
	messages []Message
	index    map[string]int // message id -> position in messages
}

func newConversation(key string) *conversation {
	c := &conversation{key: key, index: make(map[string]int)}
	c.noteKey(key)
	return c
}

// noteKey seeds the first-seen identifiers from the key's own namespace.
func (c *conversation) noteKey(key string) {
	switch identity.Classify(key) {
	case identity.Primary, identity.Group:
		if c.primary == "" {
			c.primary = key
		}
	case identity.Alias:
		if c.alias == "" {
			c.alias = key
		}
	}
}

func (c *conversation) noteIdentifiers(primary, alias string) {
	if c.primary == "" && primary != "" {
		c.primary = primary
	}
	if c.alias == "" && alias != "" {
		c.alias = alias
	}
}

// add appends msg unless its id is already in the log.
func (c *conversation) add(msg Message) bool {
	if _, ok := c.index[msg.ID]; ok {
		return false
	}
	msg.ChatKey = c.key
	c.index[msg.ID] = len(c.messages)
	c.messages = append(c.messages, msg)
	c.noteIdentifiers(msg.ChatPrimary, msg.ChatAlias)
	return true
}

func (c *conversation) reindex() {
	c.index = make(map[string]int, len(c.messages))
	for i, m := range c.messages {
		c.index[m.ID] = i
	}
}

func (c *conversation) copy() Conversation {
	return Conversation{
		Key:      c.key,
		Primary:  c.primary,
		Alias:    c.alias,
		Messages: slices.Clone(c.messages),
	}
}

// Store owns all conversation state. Every operation runs under one lock, so
// an alias promotion and the insert that triggered it are a single step.
type Store struct {
	mu       sync.Mutex
	resolver *identity.Resolver
	convs    map[string]*conversation
	active   string

	persister Persister
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewStore creates an empty store. persister and b may be nil.
func NewStore(persister Persister, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		resolver:  identity.NewResolver(nil),
		convs:     make(map[string]*conversation),
		persister: persister,
		bus:       b,
		logger:    logger,
	}
}

// UpsertMessage stores msg in its resolved conversation. A message carrying
// both a Primary and an Alias identifier first promotes the alias. Messages
// without an id or chat key are ignored. Returns true if msg was appended.
func (s *Store) UpsertMessage(msg Message) bool {
	raw := msg.ChatKey
	if raw == "" {
		raw = identity.PickKey(msg.ChatPrimary, msg.ChatAlias)
	}
	if msg.ID == "" || raw == "" {
		return false
	}
	if msg.Status == "" {
		msg.Status = StatusSent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	if msg.ChatPrimary != "" && msg.ChatAlias != "" {
		changed = s.promoteLocked(msg.ChatPrimary, msg.ChatAlias)
	}

	key := s.resolver.Resolve(raw)
	c := s.conversationLocked(key)
	inserted := c.add(msg)
	if inserted {
		changed = true
		s.publish(bus.KindMessageUpserted, MessageUpserted{Key: key, ID: msg.ID})
		if s.active == "" {
			s.setActiveLocked(key)
		}
	}

	if changed {
		s.persistLocked()
	}
	return inserted
}

// Promote installs alias -> primary and merges the alias conversation into
// the primary one. Returns false if the mapping already existed or the pair
// is not a Primary/Alias pair.
func (s *Store) Promote(primary, alias string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.promoteLocked(primary, alias) {
		return false
	}
	s.persistLocked()
	return true
}

func (s *Store) promoteLocked(primary, alias string) bool {
	if !s.resolver.Observe(primary, alias) {
		return false
	}

	merged := 0
	if from, ok := s.convs[alias]; ok {
		to := s.conversationLocked(primary)
		merged = len(from.messages)
		to.messages = mergeLogs(from.messages, to.messages, primary)
		to.reindex()
		to.noteIdentifiers(from.primary, from.alias)
		delete(s.convs, alias)
	}
	if c, ok := s.convs[primary]; ok {
		c.noteIdentifiers(primary, alias)
	}

	s.logger.Info("alias promoted",
		zap.String("alias", alias),
		zap.String("primary", primary),
		zap.Int("merged", merged),
	)
	s.publish(bus.KindAliasPromoted, AliasPromoted{Alias: alias, Primary: primary, Merged: merged})

	if s.active == alias {
		s.setActiveLocked(primary)
	}
	return true
}

// mergeLogs interleaves two arrival-ordered logs by timestamp, taking from
// older first on ties. Duplicate ids keep their first occurrence.
func mergeLogs(older, newer []Message, key string) []Message {
	out := make([]Message, 0, len(older)+len(newer))
	seen := make(map[string]struct{}, len(older)+len(newer))
	push := func(m Message) {
		if _, ok := seen[m.ID]; ok {
			return
		}
		seen[m.ID] = struct{}{}
		m.ChatKey = key
		out = append(out, m)
	}

	i, j := 0, 0
	for i < len(older) && j < len(newer) {
		if older[i].At <= newer[j].At {
			push(older[i])
			i++
		} else {
			push(newer[j])
			j++
		}
	}
	for ; i < len(older); i++ {
		push(older[i])
	}
	for ; j < len(newer); j++ {
		push(newer[j])
	}
	return out
}

// ApplyReceipts advances the status of every outbound message named by rc.
// Status never regresses and receipts of an unknown type change nothing.
// Returns the number of messages updated.
func (s *Store) ApplyReceipts(rc event.Receipt) int {
	target, ok := statusFor(rc.Type)
	if !ok || len(rc.IDs) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for _, c := range s.convs {
		for _, id := range rc.IDs {
			i, ok := c.index[id]
			if !ok {
				continue
			}
			m := &c.messages[i]
			if !m.FromMe || target.rank() <= m.Status.rank() {
				continue
			}
			m.Status = target
			updated++
		}
	}
	if updated > 0 {
		s.publish(bus.KindReceiptsApplied, ReceiptsApplied{Status: target, Updated: updated})
		s.persistLocked()
	}
	return updated
}

// SetActive selects the conversation for key (resolved). Empty keys are
// ignored. Returns true if the selection changed.
func (s *Store) SetActive(key string) bool {
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key = s.resolver.Resolve(key)
	if key == s.active {
		return false
	}
	s.setActiveLocked(key)
	s.persistLocked()
	return true
}

func (s *Store) setActiveLocked(key string) {
	from := s.active
	s.active = key
	s.publish(bus.KindActiveChanged, ActiveChanged{From: from, To: key})
}

// Active returns the selected conversation key, or "".
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Resolve returns the canonical key for key.
func (s *Store) Resolve(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolver.Resolve(key)
}

// Get returns a copy of the conversation key resolves to.
func (s *Store) Get(key string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[s.resolver.Resolve(key)]
	if !ok {
		return Conversation{}, false
	}
	return c.copy(), true
}

// ListAll returns copies of every conversation, ordered by key.
func (s *Store) ListAll() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.convs))
	for _, key := range s.sortedKeysLocked() {
		out = append(out, s.convs[key].copy())
	}
	return out
}

// Stats returns the number of conversations, messages and known aliases.
func (s *Store) Stats() (conversations, messages, aliases int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		messages += len(c.messages)
	}
	return len(s.convs), messages, s.resolver.Len()
}

// Snapshot returns the full state in persisted form.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{Active: s.active}
	if s.resolver.Len() > 0 {
		snap.Aliases = s.resolver.Aliases()
	}
	if len(s.convs) > 0 {
		snap.Map = make(map[string][]Message, len(s.convs))
		for key, c := range s.convs {
			snap.Map[key] = slices.Clone(c.messages)
		}
	}
	return snap
}

// Restore replaces the state with snap without persisting it. Logs stored
// under an alias that snap maps are merged into the primary conversation the
// same way a live promotion merges them.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resolver = identity.NewResolver(snap.Aliases)
	s.convs = make(map[string]*conversation, len(snap.Map))

	keys := make([]string, 0, len(snap.Map))
	for key := range snap.Map {
		if key != "" {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	var aliased []string
	for _, raw := range keys {
		if s.resolver.Resolve(raw) != raw {
			aliased = append(aliased, raw)
			continue
		}
		c := s.conversationLocked(raw)
		for _, m := range snap.Map[raw] {
			if m.ID != "" {
				c.add(m)
			}
		}
	}

	for _, raw := range aliased {
		key := s.resolver.Resolve(raw)
		to := s.conversationLocked(key)
		to.noteKey(raw)

		log := make([]Message, 0, len(snap.Map[raw]))
		for _, m := range snap.Map[raw] {
			if m.ID != "" {
				log = append(log, m)
				to.noteIdentifiers(m.ChatPrimary, m.ChatAlias)
			}
		}
		to.messages = mergeLogs(log, to.messages, key)
		to.reindex()
	}
	s.active = s.resolver.Resolve(snap.Active)
}

// Reset discards every conversation, the alias map and the active key, then
// clears the persisted snapshot. The in-memory state is emptied even when
// clearing storage fails; the error is returned so callers can report it.
func (s *Store) Reset() (Reset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Reset{Conversations: len(s.convs), Aliases: s.resolver.Len()}
	for _, c := range s.convs {
		r.Messages += len(c.messages)
	}
	s.resolver = identity.NewResolver(nil)
	s.convs = make(map[string]*conversation)
	s.active = ""

	var err error
	if s.persister != nil {
		if err = s.persister.Clear(); err != nil {
			s.logger.Warn("failed to clear snapshot", zap.Error(err))
		}
	}
	s.logger.Info("inbox reset",
		zap.Int("conversations", r.Conversations),
		zap.Int("messages", r.Messages),
		zap.Int("aliases", r.Aliases),
	)
	s.publish(bus.KindInboxReset, r)
	return r, err
}

// conversationLocked returns the conversation stored under key, creating it.
func (s *Store) conversationLocked(key string) *conversation {
	c, ok := s.convs[key]
	if !ok {
		c = newConversation(key)
		s.convs[key] = c
	}
	return c
}

func (s *Store) sortedKeysLocked() []string {
	keys := make([]string, 0, len(s.convs))
	for key := range s.convs {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func (s *Store) persistLocked() {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(s.snapshotLocked()); err != nil {
		s.logger.Warn("failed to persist snapshot", zap.Error(err))
	}
}

func (s *Store) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Payload: payload})
}
