package searchindex

import (
	"context"
	"sort"
	"strings"

	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// trigramsOf returns the set of overlapping 3-grams in s (lowercased); a
// string shorter than 3 runes yields no trigrams.
func trigramsOf(s string) []string {
	s = strings.ToLower(s)
	runes := []rune(s)
	if len(runes) < 3 {
		return nil
	}
	out := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		out = append(out, string(runes[i:i+3]))
	}
	return out
}

func (s *Store) indexTrigramsLocked(mountID string, e *types.Entry) {
	mountTrigrams := s.trigrams[mountID]
	if mountTrigrams == nil {
		mountTrigrams = make(map[string]map[string]struct{})
		s.trigrams[mountID] = mountTrigrams
	}
	for _, tg := range trigramSetOf(e) {
		postings := mountTrigrams[tg]
		if postings == nil {
			postings = make(map[string]struct{})
			mountTrigrams[tg] = postings
		}
		postings[e.FSPath] = struct{}{}
	}
}

func (s *Store) unindexTrigramsLocked(mountID string, e *types.Entry) {
	mountTrigrams := s.trigrams[mountID]
	if mountTrigrams == nil {
		return
	}
	for _, tg := range trigramSetOf(e) {
		if postings, ok := mountTrigrams[tg]; ok {
			delete(postings, e.FSPath)
			if len(postings) == 0 {
				delete(mountTrigrams, tg)
			}
		}
	}
}

func trigramSetOf(e *types.Entry) []string {
	seen := make(map[string]struct{})
	for _, tg := range trigramsOf(e.Name) {
		seen[tg] = struct{}{}
	}
	for _, tg := range trigramsOf(e.FSPath) {
		seen[tg] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for tg := range seen {
		out = append(out, tg)
	}
	return out
}

// candidatesLocked returns the fs_paths of mountID whose trigram postings
// cover every trigram of query, intersecting postings lists shortest-first.
// A final substring check (in matchesLocked) arbitrates, since trigram
// overlap alone only proves "could contain", not "does contain".
func (s *Store) candidatesLocked(mountID, query string) map[string]struct{} {
	queryTrigrams := trigramsOf(query)
	mountTrigrams := s.trigrams[mountID]
	if len(queryTrigrams) == 0 || mountTrigrams == nil {
		return nil
	}

	postingLists := make([][]string, 0, len(queryTrigrams))
	for _, tg := range queryTrigrams {
		postings, ok := mountTrigrams[tg]
		if !ok {
			return nil // a required trigram has no postings at all: no match possible
		}
		list := make([]string, 0, len(postings))
		for fsPath := range postings {
			list = append(list, fsPath)
		}
		postingLists = append(postingLists, list)
	}
	sort.Slice(postingLists, func(i, j int) bool { return len(postingLists[i]) < len(postingLists[j]) })

	result := make(map[string]struct{}, len(postingLists[0]))
	for _, fsPath := range postingLists[0] {
		result[fsPath] = struct{}{}
	}
	for _, list := range postingLists[1:] {
		present := make(map[string]struct{}, len(list))
		for _, fsPath := range list {
			present[fsPath] = struct{}{}
		}
		for fsPath := range result {
			if _, ok := present[fsPath]; !ok {
				delete(result, fsPath)
			}
		}
	}
	return result
}

// Search performs a trigram-contains match over name and fs_path, scoped per
// q.Scope, ordered deterministically (mount, directory-first, name) and
// keyset-paginated on the opaque cursor.
func (s *Store) Search(ctx context.Context, q types.SearchQuery) (*types.SearchResponse, error) {
	if len([]rune(q.Query)) < minQueryLength {
		return nil, gwerrors.Validation(gwerrors.ErrCodeQueryTooShort, "query must be at least 3 characters")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := &types.SearchResponse{IndexReady: true}

	var mountIDs []string
	switch q.Scope {
	case types.ScopeMount, types.ScopeDirectory:
		st := s.stateLocked(q.MountID)
		if st.Status != types.IndexReady {
			resp.IndexReady = false
			resp.IndexNotReadyMountIDs = []string{q.MountID}
			return resp, nil
		}
		mountIDs = []string{q.MountID}
	default: // ScopeGlobal or unset
		for _, id := range q.AllowedMountIDs {
			st := s.stateLocked(id)
			if st.Status == types.IndexReady {
				mountIDs = append(mountIDs, id)
			} else {
				resp.SkippedMounts = append(resp.SkippedMounts, id)
			}
		}
	}

	lowerQuery := strings.ToLower(q.Query)
	var candidates []types.SearchResult
	for _, mountID := range mountIDs {
		mountEntries := s.entries[mountID]
		for fsPath := range s.candidatesLocked(mountID, q.Query) {
			e, ok := mountEntries[fsPath]
			if !ok {
				continue
			}
			if q.Scope == types.ScopeDirectory && q.PathPrefix != "" && !strings.HasPrefix(fsPath, q.PathPrefix) {
				continue
			}
			if !strings.Contains(strings.ToLower(e.Name), lowerQuery) && !strings.Contains(strings.ToLower(fsPath), lowerQuery) {
				continue
			}
			candidates = append(candidates, types.SearchResult{MountID: mountID, Entry: *e})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.MountID != b.MountID {
			return a.MountID < b.MountID
		}
		if a.Entry.IsDir != b.Entry.IsDir {
			return a.Entry.IsDir
		}
		if a.Entry.Name != b.Entry.Name {
			return a.Entry.Name < b.Entry.Name
		}
		return a.Entry.FSPath < b.Entry.FSPath
	})

	start := 0
	if q.Cursor != "" {
		for i, c := range candidates {
			if cursorKey(c) == q.Cursor {
				start = i + 1
				break
			}
		}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = len(candidates)
	}
	end := start + limit
	if end > len(candidates) {
		end = len(candidates)
	}
	if start > len(candidates) {
		start = len(candidates)
	}
	page := candidates[start:end]

	resp.Results = page
	total := len(candidates)
	resp.Total = &total
	if end < len(candidates) {
		resp.HasMore = true
		resp.NextCursor = cursorKey(page[len(page)-1])
	}
	return resp, nil
}

func (s *Store) stateLocked(mountID string) types.MountIndexState {
	if st, ok := s.states[mountID]; ok {
		return *st
	}
	return types.MountIndexState{MountID: mountID, Status: types.IndexNotReady}
}

func cursorKey(r types.SearchResult) string {
	return r.MountID + "\x00" + r.Entry.FSPath
}
