package stance

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

// Store holds the fixed candidate roster and the cached stance cards used
// for voting. The roster is immutable after construction; cards accumulate
// as research tasks complete.
type Store struct {
	mu         sync.RWMutex
	candidates []Candidate
	byName     map[string]int // lowercased name -> roster index
	cards      map[string]StanceCard
	cardOrder  []string // insertion order for stable listings
	logger     *zap.Logger
}

// NewStore creates a store seeded with the built-in default roster.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		cards:  make(map[string]StanceCard),
		logger: logger,
	}
	s.setRoster(defaultRoster())
	return s
}

// LoadRoster replaces the default roster with candidates from a YAML file.
//
// Expected shape:
//
//	candidates:
//	  - name: London Breed
//	    role: Mayor of San Francisco (Incumbent)
//	    party: Moderate Democrat
//	    gender: female
//	    bio: Incumbent mayor since 2018, former supervisor
//	    key_issues: [housing, public_safety, economy]
func (s *Store) LoadRoster(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read roster file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to parse roster file %s: %w", path, err)
	}

	var roster struct {
		Candidates []Candidate `koanf:"candidates"`
	}
	if err := k.Unmarshal("", &roster); err != nil {
		return fmt.Errorf("failed to unmarshal roster: %w", err)
	}
	if len(roster.Candidates) == 0 {
		return fmt.Errorf("roster file %s contains no candidates", path)
	}
	for _, c := range roster.Candidates {
		if c.Name == "" {
			return fmt.Errorf("roster file %s contains a candidate without a name", path)
		}
	}

	s.mu.Lock()
	s.setRoster(roster.Candidates)
	s.mu.Unlock()

	s.logger.Info("candidate roster loaded",
		zap.String("path", path),
		zap.Int("candidates", len(roster.Candidates)))
	return nil
}

// setRoster installs the roster and rebuilds the name index. Caller holds
// the lock except during construction.
func (s *Store) setRoster(roster []Candidate) {
	s.candidates = roster
	s.byName = make(map[string]int, len(roster))
	for i, c := range roster {
		s.byName[strings.ToLower(c.Name)] = i
	}
}

// Candidates returns the roster in declaration order.
func (s *Store) Candidates() []Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Candidate, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// Lookup finds a candidate by name, case-insensitively.
func (s *Store) Lookup(name string) (Candidate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byName[strings.ToLower(name)]
	if !ok {
		return Candidate{}, false
	}
	return s.candidates[idx], true
}

// AddCards folds stance cards into the voting deck, deduplicating by card
// id. Unbalanced cards are rejected. Returns the number accepted.
func (s *Store) AddCards(cards ...StanceCard) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := 0
	for _, card := range cards {
		if card.ID == "" || !card.Balanced() {
			s.logger.Debug("rejected stance card",
				zap.String("stance_id", card.ID),
				zap.Int("distinct_candidates", card.DistinctCandidates()))
			continue
		}
		if _, exists := s.cards[card.ID]; exists {
			continue
		}
		s.cards[card.ID] = card
		s.cardOrder = append(s.cardOrder, card.ID)
		accepted++
	}
	return accepted
}

// Cards returns the cached stance cards in insertion order.
func (s *Store) Cards() []StanceCard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StanceCard, 0, len(s.cardOrder))
	for _, id := range s.cardOrder {
		out = append(out, s.cards[id])
	}
	return out
}

// Card looks up a single cached card by id.
func (s *Store) Card(id string) (StanceCard, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.cards[id]
	return card, ok
}

// defaultRoster is the built-in 2024 San Francisco mayoral field.
func defaultRoster() []Candidate {
	return []Candidate{
		{
			Name:      "London Breed",
			Role:      "Mayor of San Francisco (Incumbent)",
			Party:     "Moderate Democrat",
			Gender:    "female",
			Bio:       "Incumbent mayor since 2018, former supervisor",
			KeyIssues: []string{IssueHousing, IssuePublicSafety, IssueEconomy},
		},
		{
			Name:      "Daniel Lurie",
			Role:      "Business Leader",
			Party:     "Moderate Democrat",
			Gender:    "male",
			Bio:       "Levi Strauss heir and former nonprofit executive",
			KeyIssues: []string{IssueHomelessness, IssuePublicSafety, IssueEconomy},
		},
		{
			Name:      "Aaron Peskin",
			Role:      "SF Board of Supervisors President",
			Party:     "Progressive Democrat",
			Gender:    "male",
			Bio:       "Progressive supervisor, former board president",
			KeyIssues: []string{IssueHousing, IssueTransportation},
		},
		{
			Name:      "Mark Farrell",
			Role:      "Former SF Supervisor",
			Party:     "Moderate Democrat",
			Gender:    "male",
			Bio:       "Former supervisor and interim mayor in 2018",
			KeyIssues: []string{IssuePublicSafety, IssueHousing, IssueEconomy},
		},
		{
			Name:      "Ahsha Safai",
			Role:      "SF Board of Supervisors",
			Party:     "Moderate Democrat",
			Gender:    "male",
			Bio:       "Supervisor from District 11, labor organizer background",
			KeyIssues: []string{IssueHousing, IssueHomelessness},
		},
	}
}
