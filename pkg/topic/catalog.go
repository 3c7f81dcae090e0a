// Package topic holds the conversation topics a learner can choose from and
// builds the prompts that frame a practice conversation around one of them.
package topic

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// ErrUnknownTopic is returned when a topic ID is not in the catalog.
var ErrUnknownTopic = errors.New("topic: unknown topic")

// Topic is one discussion subject with its opening question.
type Topic struct {
	ID        int      `json:"id" toml:"id"`
	Title     string   `json:"title" toml:"title"`
	Opening   string   `json:"opening" toml:"opening"`
	FollowUps []string `json:"follow_ups" toml:"follow_ups"`
}

// Catalog is an immutable, ID-ordered set of topics.
type Catalog struct {
	topics []Topic
	byID   map[int]int
}

// NewCatalog validates topics and builds a catalog ordered by ID.
func NewCatalog(topics []Topic) (*Catalog, error) {
	if len(topics) == 0 {
		return nil, errors.New("topic: catalog is empty")
	}

	sorted := make([]Topic, len(topics))
	copy(sorted, topics)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	c := &Catalog{topics: sorted, byID: make(map[int]int, len(sorted))}
	for i, t := range sorted {
		if t.ID <= 0 {
			return nil, fmt.Errorf("topic: invalid id %d", t.ID)
		}
		if t.Title == "" || t.Opening == "" {
			return nil, fmt.Errorf("topic %d: title and opening are required", t.ID)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("topic: duplicate id %d", t.ID)
		}
		c.byID[t.ID] = i
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := NewCatalog(builtin)
	if err != nil {
		panic(err)
	}
	return c
}

type catalogFile struct {
	Topics []Topic `toml:"topic"`
}

// LoadFile reads a TOML catalog made of [[topic]] tables.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topic: read catalog: %w", err)
	}
	var f catalogFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("topic: parse catalog: %w", err)
	}
	return NewCatalog(f.Topics)
}

// All returns a copy of every topic in ID order.
func (c *Catalog) All() []Topic {
	out := make([]Topic, len(c.topics))
	copy(out, c.topics)
	return out
}

// Get looks up a topic by ID.
func (c *Catalog) Get(id int) (Topic, error) {
	i, ok := c.byID[id]
	if !ok {
		return Topic{}, fmt.Errorf("%w: %d", ErrUnknownTopic, id)
	}
	return c.topics[i], nil
}

// Len returns the number of topics.
func (c *Catalog) Len() int {
	return len(c.topics)
}

var builtin = []Topic{
	{1, "Remote Working vs Office Working", "Do you think working from home is better than working in an office?",
		[]string{"What are the advantages and disadvantages of both?", "In what situations might office work be more effective?", "How could companies improve remote work systems?"}},
	{2, "The Role of Social Media in Society", "Do you believe social media has had a positive or negative impact on society?",
		[]string{"Can you give examples to support your view?", "Should there be stricter regulation?", "How does it influence communication skills?"}},
	{3, "Education and Success", "Is formal education the most important factor in achieving success?",
		[]string{"What other factors matter?", "Should education systems change?", "Can success be measured differently?"}},
	{4, "Climate Responsibility", "Who should take more responsibility for protecting the environment: individuals or governments?",
		[]string{"What practical actions could be taken?", "Are current efforts sufficient?", "How might behaviour change in the future?"}},
	{5, "Artificial Intelligence in Daily Life", "Do you think artificial intelligence will improve people’s lives overall?",
		[]string{"What risks might exist?", "In which areas could it be most useful?", "Should there be limits?"}},
	{6, "Work-Life Balance", "Is achieving work-life balance more difficult now than in the past?",
		[]string{"Why might this be the case?", "What strategies could help?", "Should employers do more?"}},
	{7, "Public Transport vs Private Cars", "Should cities encourage people to use public transport instead of private cars?",
		[]string{"What are the benefits and drawbacks?", "How could governments encourage change?", "Would this work in all areas?"}},
	{8, "The Importance of Learning Languages", "Do you think learning a second language is essential today?",
		[]string{"In what situations is it most valuable?", "Should schools make it compulsory?", "How does it influence career opportunities?"}},
	{9, "Technology and Children", "Should children’s screen time be limited?",
		[]string{"What are the possible consequences?", "Who should control this: parents or schools?", "Can technology be educational?"}},
	{10, "The Future of Traditional Jobs", "Do you believe automation will replace many traditional jobs?",
		[]string{"Which industries are most at risk?", "How should society prepare?", "Could new jobs be created?"}},
	{11, "University vs Apprenticeship", "Is university always the best path after school?",
		[]string{"What are the alternatives?", "What are the financial implications?", "How should young people decide?"}},
	{12, "Healthy Living", "Is it more important to eat well or exercise regularly?",
		[]string{"How are the two connected?", "Why do people struggle to maintain healthy habits?", "What advice would you give?"}},
	{13, "The Role of Government", "Should governments intervene more in people’s daily lives?",
		[]string{"In which areas?", "Where should limits exist?", "How does this affect personal freedom?"}},
	{14, "Online Learning vs Classroom Learning", "Is online learning as effective as face-to-face education?",
		[]string{"For which learners might it work best?", "What are the disadvantages?", "Could a hybrid model be better?"}},
	{15, "The Influence of Advertising", "Does advertising influence people more than they realise?",
		[]string{"In what ways?", "Should certain advertisements be restricted?", "How can consumers protect themselves?"}},
	{16, "The Importance of Travel", "Is travelling abroad essential for personal development?",
		[]string{"What skills does travel develop?", "Can similar experiences be gained locally?", "How might travel change someone’s perspective?"}},
	{17, "Equality in the Workplace", "Do you think workplaces are truly equal today?",
		[]string{"What challenges still exist?", "What improvements could be made?", "How can organisations promote fairness?"}},
	{18, "Freedom of Speech", "Should there be limits to freedom of speech?",
		[]string{"Where should those limits exist?", "How can society balance safety and freedom?", "Can unrestricted speech cause harm?"}},
	{19, "Urban vs Rural Living", "Is it better to live in a city or in the countryside?",
		[]string{"How does lifestyle differ?", "What are the economic implications?", "Where would you prefer to raise a family?"}},
	{20, "The Meaning of Success", "How would you define success in modern society?",
		[]string{"Is success linked to money?", "Can success be personal rather than financial?", "Has the definition changed over time?"}},
}
