// Package threadview plans how a threaded comments panel lays out open and
// resolved threads for a given display mode.
package threadview

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

const (
	Interleaved    = "interleaved"
	Tabbed         = "tabbed"
	Sequentially   = "sequentially"
	ResolvedOnly   = "resolvedOnly"
	UnresolvedOnly = "unresolvedOnly"
)

const (
	StatusAny        = "any"
	StatusResolved   = "resolved"
	StatusUnresolved = "unresolved"
)

const (
	SortFirstMessage = "first_message_timestamp"
	SortMostRecent   = "most_recent_message_timestamp"
)

// Section names in render order.
const (
	SectionTabs           = "tabs"
	SectionComposer       = "composer"
	SectionThreadList     = "threadList"
	SectionExpandResolved = "expandResolvedButton"
	SectionResolvedList   = "resolvedThreadList"
)

var ErrInvalidProps = errors.New("invalid threaded comments props")

type Props struct {
	DisplayResolved  string `json:"displayResolved"`
	MessageOrder     string `json:"messageOrder"`
	ScrollDirection  string `json:"scrollDirection"`
	ComposerPosition string `json:"composerPosition"`
	SortBy           string `json:"sortBy"`
	ShowReplies      string `json:"showReplies"`
	// FilterResolvedStatus, when set, overrides the main list's status.
	FilterResolvedStatus      string `json:"filterResolvedStatus,omitempty"`
	HighlightedThreadResolved bool   `json:"highlightedThreadResolved"`
	HasResolvedThreads        bool   `json:"hasResolvedThreads"`
}

type State struct {
	ResolvedTabSelected bool `json:"resolvedTabSelected"`
	ExpandResolved      bool `json:"expandResolved"`
}

type Plan struct {
	DisplayResolved    string   `json:"displayResolved"`
	ResolvedStatus     string   `json:"resolvedStatus"`
	ResolvedListStatus string   `json:"resolvedListStatus,omitempty"`
	ScrollDirection    string   `json:"scrollDirection"`
	SortBy             string   `json:"sortBy"`
	ShowReplies        string   `json:"showReplies"`
	ShowTabs           bool     `json:"showTabs"`
	ShowComposer       bool     `json:"showComposer"`
	ShowExpandButton   bool     `json:"showExpandButton"`
	ShowResolvedList   bool     `json:"showResolvedList"`
	NewestOnTop        bool     `json:"newestOnTop"`
	Sections           []string `json:"sections"`
}

func oneOf(value string, allowed ...string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	return false
}

// Normalize fills defaults and rejects unknown values. An explicit
// scrollDirection wins over the legacy messageOrder.
func Normalize(props Props) (Props, error) {
	if props.DisplayResolved == "" {
		props.DisplayResolved = UnresolvedOnly
	}
	if props.MessageOrder == "" {
		props.MessageOrder = "newest_on_bottom"
	}
	if props.ComposerPosition == "" {
		props.ComposerPosition = "bottom"
	}
	if props.SortBy == "" {
		props.SortBy = SortFirstMessage
	}
	if props.ShowReplies == "" {
		props.ShowReplies = "initiallyCollapsed"
	}
	if props.ScrollDirection == "" {
		props.ScrollDirection = "up"
		if props.MessageOrder == "newest_on_top" {
			props.ScrollDirection = "down"
		}
	}

	checks := []struct {
		field   string
		value   string
		allowed []string
	}{
		{"displayResolved", props.DisplayResolved, []string{Interleaved, Tabbed, Sequentially, ResolvedOnly, UnresolvedOnly}},
		{"messageOrder", props.MessageOrder, []string{"newest_on_top", "newest_on_bottom"}},
		{"scrollDirection", props.ScrollDirection, []string{"up", "down"}},
		{"composerPosition", props.ComposerPosition, []string{"top", "bottom", "none"}},
		{"sortBy", props.SortBy, []string{SortFirstMessage, SortMostRecent}},
		{"showReplies", props.ShowReplies, []string{"initiallyCollapsed", "initiallyExpanded", "alwaysCollapsed"}},
	}
	for _, check := range checks {
		if !oneOf(check.value, check.allowed...) {
			return Props{}, fmt.Errorf("%w: %s %q", ErrInvalidProps, check.field, check.value)
		}
	}
	if props.FilterResolvedStatus != "" && !oneOf(props.FilterResolvedStatus, StatusAny, StatusResolved, StatusUnresolved) {
		return Props{}, fmt.Errorf("%w: filter resolvedStatus %q", ErrInvalidProps, props.FilterResolvedStatus)
	}
	return props, nil
}

// InitialState opens the resolved tab when the highlighted thread is
// resolved or only resolved threads are shown, and pre-expands the resolved
// section in sequential mode when the highlighted thread is resolved.
func InitialState(props Props) State {
	return State{
		ResolvedTabSelected: props.HighlightedThreadResolved || props.DisplayResolved == ResolvedOnly,
		ExpandResolved:      props.HighlightedThreadResolved && props.DisplayResolved == Sequentially,
	}
}

func resolvedStatusFor(mode string, state State) string {
	switch mode {
	case Interleaved:
		return StatusAny
	case Tabbed:
		if state.ResolvedTabSelected {
			return StatusResolved
		}
		return StatusUnresolved
	case ResolvedOnly:
		return StatusResolved
	case UnresolvedOnly, Sequentially:
		return StatusUnresolved
	default:
		return StatusAny
	}
}

func Build(props Props, state State) (Plan, error) {
	props, err := Normalize(props)
	if err != nil {
		return Plan{}, err
	}

	status := resolvedStatusFor(props.DisplayResolved, state)
	sequential := props.DisplayResolved == Sequentially
	plan := Plan{
		DisplayResolved:  props.DisplayResolved,
		ResolvedStatus:   status,
		ScrollDirection:  props.ScrollDirection,
		SortBy:           props.SortBy,
		ShowReplies:      props.ShowReplies,
		ShowTabs:         props.DisplayResolved == Tabbed,
		ShowComposer:     props.ComposerPosition != "none" && status != StatusResolved,
		ShowExpandButton: sequential && props.HasResolvedThreads,
		ShowResolvedList: sequential && state.ExpandResolved,
		NewestOnTop:      props.ScrollDirection == "down",
	}
	if props.FilterResolvedStatus != "" {
		plan.ResolvedStatus = props.FilterResolvedStatus
	}
	if plan.ShowResolvedList {
		plan.ResolvedListStatus = StatusResolved
	}

	lists := []string{SectionThreadList}
	if plan.ShowExpandButton {
		lists = append(lists, SectionExpandResolved)
	}
	if plan.ShowResolvedList {
		lists = append(lists, SectionResolvedList)
	}
	if !plan.NewestOnTop {
		for i, j := 0, len(lists)-1; i < j; i, j = i+1, j-1 {
			lists[i], lists[j] = lists[j], lists[i]
		}
	}

	if plan.ShowTabs {
		plan.Sections = append(plan.Sections, SectionTabs)
	}
	composerOnTop := props.ComposerPosition == "top"
	if plan.ShowComposer && composerOnTop {
		plan.Sections = append(plan.Sections, SectionComposer)
	}
	plan.Sections = append(plan.Sections, lists...)
	if plan.ShowComposer && !composerOnTop {
		plan.Sections = append(plan.Sections, SectionComposer)
	}
	return plan, nil
}

const (
	EventSelectResolvedTab   = "selectResolvedTab"
	EventSelectUnresolvedTab = "selectUnresolvedTab"
	EventToggleExpand        = "toggleExpandResolved"
	EventExpand              = "expandResolved"
	EventCollapse            = "collapseResolved"
)

func Toggle(state State, event string) (State, error) {
	switch event {
	case EventSelectResolvedTab:
		state.ResolvedTabSelected = true
	case EventSelectUnresolvedTab:
		state.ResolvedTabSelected = false
	case EventToggleExpand:
		state.ExpandResolved = !state.ExpandResolved
	case EventExpand:
		state.ExpandResolved = true
	case EventCollapse:
		state.ExpandResolved = false
	default:
		return state, fmt.Errorf("%w: unknown event %q", ErrInvalidProps, event)
	}
	return state, nil
}

type Thread struct {
	ID             string    `json:"id"`
	Resolved       bool      `json:"resolved"`
	FirstMessageAt time.Time `json:"firstMessageTimestamp"`
	LastActivityAt time.Time `json:"lastActivityTimestamp"`
}

func matchesStatus(thread Thread, status string) bool {
	switch status {
	case StatusResolved:
		return thread.Resolved
	case StatusUnresolved:
		return !thread.Resolved
	default:
		return true
	}
}

// Apply splits threads into the main and resolved lists of the plan in
// render order. Each list is sorted newest first by the plan's sort key, and
// reversed when the newest thread belongs at the bottom. A highlighted thread
// that the main filter would hide is placed after the other main threads,
// before that reversal.
func Apply(plan Plan, threads []Thread, highlightID string) (main, resolved []Thread) {
	key := func(t Thread) time.Time {
		if plan.SortBy == SortMostRecent {
			return t.LastActivityAt
		}
		return t.FirstMessageAt
	}
	byKey := func(list []Thread) {
		sort.SliceStable(list, func(i, j int) bool { return key(list[i]).After(key(list[j])) })
	}

	var highlighted *Thread
	for i := range threads {
		thread := threads[i]
		if matchesStatus(thread, plan.ResolvedStatus) {
			main = append(main, thread)
		} else if thread.ID == highlightID {
			highlighted = &threads[i]
		}
		if plan.ShowResolvedList && thread.Resolved {
			resolved = append(resolved, thread)
		}
	}
	byKey(main)
	byKey(resolved)
	if highlighted != nil {
		main = append(main, *highlighted)
	}
	if !plan.NewestOnTop {
		reverseThreads(main)
		reverseThreads(resolved)
	}
	return main, resolved
}

func reverseThreads(list []Thread) {
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
}
