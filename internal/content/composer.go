package content

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/zeebo/blake3"

	"github.com/thedetect/universe-talk-bot/internal/astro"
)

const (
	maxInsights  = 3
	maxListItems = 2
	defaultName  = "friend"
)

// Message is the structured daily message. A fallback message carries only Text.
type Message struct {
	Name     string
	Date     civil.Date
	Fallback bool
	Text     string

	Theme    string
	Insights []string
	Do       []string
	Dont     []string
	Ritual   string
	Motto    string
}

// Composer assembles messages from a catalog.
type Composer struct {
	cat    *Catalog
	tables astro.Tables
}

// NewComposer returns a Composer. tables decides which aspects count as harmonious.
func NewComposer(cat *Catalog, tables astro.Tables) *Composer {
	return &Composer{cat: cat, tables: tables}
}

// Compose builds the message for one user-day. Every choice is a pure function of the
// ranking, userID and date, so a retry renders the same text.
func (c *Composer) Compose(r astro.Ranking, userID int64, date civil.Date, name string) Message {
	name = displayName(name)
	if r.Status != astro.StatusOK {
		return Message{Name: name, Date: date, Fallback: true, Text: c.Fallback(name)}
	}

	m := Message{
		Name:   name,
		Date:   date,
		Theme:  c.cat.GenericTheme,
		Ritual: c.cat.Rituals[astro.ElementOf(r.NatalSun).String()],
		Motto:  c.cat.Mottos[pick(seedKey(date, userID), len(c.cat.Mottos))],
	}
	if m.Ritual == "" {
		m.Ritual = c.cat.GenericRitual
	}
	if len(r.Matches) > 0 {
		top := r.Matches[0]
		m.Theme = c.cat.theme(top.Transiting, top.Aspect)
	}

	seenBody := map[astro.Body]bool{}
	for _, match := range r.Matches {
		if len(m.Insights) == maxInsights {
			break
		}
		if seenBody[match.Transiting] {
			continue
		}
		seenBody[match.Transiting] = true
		m.Insights = appendDistinct(m.Insights, c.cat.Insights[match.Transiting.String()], maxInsights)
	}

	for _, match := range r.Matches {
		key := fmt.Sprintf("%s|%d|%s|%s|%s", date, userID, match.Transiting, match.Natal, match.Aspect)
		if c.tables.Harmonious(match.Aspect) {
			m.Do = appendDistinct(m.Do, c.cat.Do[pick(key, len(c.cat.Do))], maxListItems)
		} else {
			m.Dont = appendDistinct(m.Dont, c.cat.Dont[pick(key, len(c.cat.Dont))], maxListItems)
		}
	}
	if len(m.Do) == 0 {
		m.Do = firstN(c.cat.GenericDo, maxListItems)
	}
	if len(m.Dont) == 0 {
		m.Dont = firstN(c.cat.GenericDont, maxListItems)
	}
	return m
}

// Fallback is the static message used when no ranking could be computed.
func (c *Composer) Fallback(name string) string {
	return strings.ReplaceAll(c.cat.Fallback, "{name}", displayName(name))
}

// Reminder is the short upsell sent instead of the full message to users without access.
func (c *Composer) Reminder(name string) string {
	return strings.ReplaceAll(c.cat.Reminder, "{name}", displayName(name))
}

// Render formats the message as plain chat text.
func (m Message) Render() string {
	if m.Fallback {
		return m.Text
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✨ %s, your sky for %s\n\n", m.Name, m.Date)
	fmt.Fprintf(&b, "🌌 %s\n", m.Theme)
	if len(m.Insights) > 0 {
		b.WriteString("\n")
		for _, s := range m.Insights {
			fmt.Fprintf(&b, "• %s\n", s)
		}
	}
	b.WriteString("\n✅ Do:\n")
	for _, s := range m.Do {
		fmt.Fprintf(&b, "• %s\n", s)
	}
	b.WriteString("\n⛔ Don't:\n")
	for _, s := range m.Dont {
		fmt.Fprintf(&b, "• %s\n", s)
	}
	fmt.Fprintf(&b, "\n🕯 Ritual: %s\n", m.Ritual)
	fmt.Fprintf(&b, "\n💫 Motto: %s", m.Motto)
	return b.String()
}

func seedKey(date civil.Date, userID int64) string {
	return date.String() + "|" + strconv.FormatInt(userID, 10)
}

// pick maps key onto [0, n) through a blake3 digest.
func pick(key string, n int) int {
	sum := blake3.Sum256([]byte(key))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(n))
}

func appendDistinct(list []string, s string, limit int) []string {
	if s == "" || len(list) >= limit {
		return list
	}
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}

func firstN(pool []string, n int) []string {
	if len(pool) < n {
		n = len(pool)
	}
	return append([]string(nil), pool[:n]...)
}

func displayName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return defaultName
	}
	return name
}
