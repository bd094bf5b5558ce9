package dashboard

import (
	"fmt"

	"github.com/greg-hellings/devscope/pkg/analytics"
)

// SelectionState is a point-in-time copy of the repository list and the
// active repository. When Repositories is non-empty Selected points at one
// of its members.
type SelectionState struct {
	Repositories []analytics.Repository
	Selected     *analytics.Repository
}

// SelectionStore holds the repository list and the active repository.
// It is not synchronized; the Orchestrator serializes access.
type SelectionStore struct {
	repos    []analytics.Repository
	selected int // index into repos, -1 when nothing is selected
}

// NewSelectionStore creates an empty store.
func NewSelectionStore() *SelectionStore {
	return &SelectionStore{selected: -1}
}

// SetRepositories replaces the list. The current selection survives when a
// repository with the same ID is still present; otherwise the first
// repository is selected, or nothing when the list is empty. It reports
// whether the selected repository ID changed.
func (s *SelectionStore) SetRepositories(list []analytics.Repository) bool {
	prevID := s.selectedID()
	s.repos = append([]analytics.Repository(nil), list...)
	s.selected = -1

	if prevID != "" {
		if i := s.indexOf(prevID); i >= 0 {
			s.selected = i
		}
	}
	if s.selected < 0 && len(s.repos) > 0 {
		s.selected = 0
	}
	return s.selectedID() != prevID
}

// Select makes repo the active repository. It fails with InvalidSelection
// when repo is not in the current list.
func (s *SelectionStore) Select(repo analytics.Repository) error {
	i := s.indexOf(repo.ID)
	if i < 0 {
		return &analytics.Error{
			Kind:   analytics.KindInvalidSelection,
			Op:     "SelectRepository",
			Detail: fmt.Sprintf("repository %q is not in the current list", repo.ID),
		}
	}
	s.selected = i
	return nil
}

// Lookup returns the repository with the given ID from the current list.
func (s *SelectionStore) Lookup(id string) (analytics.Repository, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.repos[i], true
	}
	return analytics.Repository{}, false
}

// Current returns a copy of the store contents.
func (s *SelectionStore) Current() SelectionState {
	st := SelectionState{Repositories: append([]analytics.Repository(nil), s.repos...)}
	if s.selected >= 0 {
		sel := s.repos[s.selected]
		st.Selected = &sel
	}
	return st
}

// IsSelected reports whether id is the active repository.
func (s *SelectionStore) IsSelected(id string) bool {
	return id != "" && s.selectedID() == id
}

func (s *SelectionStore) selectedID() string {
	if s.selected < 0 {
		return ""
	}
	return s.repos[s.selected].ID
}

func (s *SelectionStore) indexOf(id string) int {
	for i := range s.repos {
		if s.repos[i].ID == id {
			return i
		}
	}
	return -1
}
