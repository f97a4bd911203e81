// Package platformtest provides in-memory platform adapters for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
)

// SentPost is a post recorded by a fake, keyed by the id the fake handed out.
type SentPost struct {
	Target string
	ID     string
	Post   platform.Post
}

// PromptHook is called after a prompt is posted; tests use it to answer.
type PromptHook func(target, promptID string, p platform.Prompt)

type prompter struct {
	mu       *sync.Mutex
	prefix   string
	next     *int
	Prompts  []SentPost
	Answers  map[string]platform.Post
	OnPrompt PromptHook
}

func (p *prompter) PostPrompt(ctx context.Context, target string, pr platform.Prompt) (string, error) {
	p.mu.Lock()
	*p.next++
	id := fmt.Sprintf("%s-prompt-%d", p.prefix, *p.next)
	p.Prompts = append(p.Prompts, SentPost{Target: target, ID: id, Post: platform.Post{Title: pr.Title, Body: pr.Body}})
	hook := p.OnPrompt
	p.mu.Unlock()

	if hook != nil {
		hook(target, id, pr)
	}
	return id, nil
}

func (p *prompter) EditPrompt(ctx context.Context, target, promptID string, post platform.Post) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Answers[promptID] = post
	return nil
}

// Staff is a fake platform.StaffChannels.
type Staff struct {
	prompter
	mu       sync.Mutex
	next     int
	Channels map[string]*models.Category
	Deleted  []string
	Sent     []SentPost
	Edits    map[string]platform.Post
	Removed  []string
	Groups   map[string][]string

	// FailCreate makes CreateChannel fail.
	FailCreate error
}

func NewStaff() *Staff {
	s := &Staff{
		Channels: make(map[string]*models.Category),
		Edits:    make(map[string]platform.Post),
		Groups:   make(map[string][]string),
	}
	s.prompter = prompter{mu: &s.mu, prefix: "staff", next: &s.next, Answers: make(map[string]platform.Post)}
	return s
}

var _ platform.StaffChannels = (*Staff)(nil)

func (s *Staff) SetOnPrompt(hook PromptHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OnPrompt = hook
}

func (s *Staff) CreateChannel(ctx context.Context, name string, category *models.Category) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreate != nil {
		return "", s.FailCreate
	}
	s.next++
	id := fmt.Sprintf("channel-%d", s.next)
	s.Channels[id] = category
	return id, nil
}

func (s *Staff) DeleteChannel(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Channels[channelID]; !ok {
		return models.NotFoundf("channel %s", channelID)
	}
	delete(s.Channels, channelID)
	s.Deleted = append(s.Deleted, channelID)
	return nil
}

func (s *Staff) Send(ctx context.Context, channelID string, p platform.Post) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := fmt.Sprintf("staff-msg-%d", s.next)
	s.Sent = append(s.Sent, SentPost{Target: channelID, ID: id, Post: p})
	return id, nil
}

func (s *Staff) Edit(ctx context.Context, channelID, messageID string, p platform.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Edits[messageID] = p
	return nil
}

func (s *Staff) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Removed = append(s.Removed, messageID)
	return nil
}

func (s *Staff) MemberGroups(ctx context.Context, groupID, memberID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Groups[memberID]...), nil
}

// SentTo returns the posts sent to one channel, in order.
func (s *Staff) SentTo(channelID string) []SentPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SentPost
	for _, p := range s.Sent {
		if p.Target == channelID {
			out = append(out, p)
		}
	}
	return out
}

// HasChannel reports whether a channel currently exists.
func (s *Staff) HasChannel(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Channels[channelID]
	return ok
}

// ChannelCount returns how many channels currently exist.
func (s *Staff) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Channels)
}

// EditOf returns the last edit applied to a message.
func (s *Staff) EditOf(messageID string) (platform.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Edits[messageID]
	return p, ok
}

// Private is a fake platform.PrivateChannels.
type Private struct {
	prompter
	mu       sync.Mutex
	next     int
	Sent     []SentPost
	Edits    map[string]platform.Post
	Profiles map[string]*platform.Profile

	// Unreachable users fail every Send with models.ErrDelivery.
	Unreachable map[string]bool
}

func NewPrivate() *Private {
	p := &Private{
		Edits:       make(map[string]platform.Post),
		Profiles:    make(map[string]*platform.Profile),
		Unreachable: make(map[string]bool),
	}
	p.prompter = prompter{mu: &p.mu, prefix: "dm", next: &p.next, Answers: make(map[string]platform.Post)}
	return p
}

var _ platform.PrivateChannels = (*Private)(nil)

func (p *Private) SetOnPrompt(hook PromptHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OnPrompt = hook
}

func (p *Private) SetUnreachable(userID string, unreachable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Unreachable[userID] = unreachable
}

func (p *Private) Send(ctx context.Context, userID string, post platform.Post) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Unreachable[userID] {
		return "", fmt.Errorf("%w: user %s", models.ErrDelivery, userID)
	}
	p.next++
	id := fmt.Sprintf("dm-msg-%d", p.next)
	p.Sent = append(p.Sent, SentPost{Target: userID, ID: id, Post: post})
	return id, nil
}

func (p *Private) Edit(ctx context.Context, userID, messageID string, post platform.Post) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Unreachable[userID] {
		return fmt.Errorf("%w: user %s", models.ErrDelivery, userID)
	}
	p.Edits[messageID] = post
	return nil
}

func (p *Private) Profile(ctx context.Context, userID string) (*platform.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prof, ok := p.Profiles[userID]; ok {
		c := *prof
		return &c, nil
	}
	return &platform.Profile{Identity: platform.Identity{ID: userID, Name: "user-" + userID}}, nil
}

// SentTo returns the posts sent to one user, in order.
func (p *Private) SentTo(userID string) []SentPost {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []SentPost
	for _, s := range p.Sent {
		if s.Target == userID {
			out = append(out, s)
		}
	}
	return out
}

// EditOf returns the last edit applied to a message.
func (p *Private) EditOf(messageID string) (platform.Post, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	post, ok := p.Edits[messageID]
	return post, ok
}

// AnswerOf returns how a prompt was rewritten once resolved.
func (p *Private) AnswerOf(promptID string) (platform.Post, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	post, ok := p.Answers[promptID]
	return post, ok
}

// AnswerOf returns how a prompt was rewritten once resolved.
func (s *Staff) AnswerOf(promptID string) (platform.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.Answers[promptID]
	return post, ok
}
