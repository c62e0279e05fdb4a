// Package match recognizes cross-reference phrases in free text.
//
// Pull request bodies link themselves to issues with phrases like
// "Fixes #123" or "Closes other-org/repo#45". The grammar is small and
// fixed:
//
//	phrase   = keyword [":"] spaces target
//	keyword  = "Fixes" | "Closes" | "Towards" | "IPR"
//	target   = [owner "/" name] "#" digits     (hash keywords)
//	         | digits                          (IPR only)
//
// Keywords are case-sensitive. A repository qualifier is only honored when
// the name is present in the caller's known-repository set; an unknown
// qualifier yields no match. "IPR" is space-delimited, never qualified, and
// always refers to the same repository as the body it appears in.
//
// Matching is deterministic: patterns are applied in declared order, and
// matches within one pattern are returned in left-to-right scan order.
package match

import (
	"regexp"
	"strings"
)

// Reference is one recognized cross-reference phrase.
type Reference struct {
	Keyword string // "Fixes", "Closes", "Towards" or "IPR"
	Repo    string // "owner/name" qualifier; empty for same-repository refs
	Number  string // referenced item number, digits as written
	Phrase  string // the full matched phrase
}

// SameRepo reports whether the reference targets the repository the text
// came from.
func (r Reference) SameRepo() bool {
	return r.Repo == ""
}

var (
	// Hash-delimited keywords, with an optional owner/name qualifier.
	hashPatterns = []*regexp.Regexp{
		regexp.MustCompile(`Fixes:?\s*((?:[\w.-]+/[\w.-]+)?)#(\d+)`),
		regexp.MustCompile(`Closes:?\s*((?:[\w.-]+/[\w.-]+)?)#(\d+)`),
		regexp.MustCompile(`Towards:?\s*((?:[\w.-]+/[\w.-]+)?)#(\d+)`),
	}
	hashKeywords = []string{"Fixes", "Closes", "Towards"}

	// Space-delimited internal-PR form. No qualifier, no hash.
	iprPattern = regexp.MustCompile(`IPR:?\s*(\d+)`)
)

// Find returns every recognized reference in body, in deterministic order.
//
// knownRepos holds repository names the caller can resolve; qualifiers are
// matched against both the full "owner/name" and the bare name. An empty or
// absent body yields nil. Find has no side effects and is safe for
// concurrent use.
func Find(body string, knownRepos []string) []Reference {
	if body == "" {
		return nil
	}

	known := make(map[string]bool, len(knownRepos)*2)
	for _, name := range knownRepos {
		known[name] = true
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			known[name[idx+1:]] = true
		}
	}

	var refs []Reference

	for i, pattern := range hashPatterns {
		for _, m := range pattern.FindAllStringSubmatch(body, -1) {
			qualifier := m[1]
			if qualifier != "" && !knownQualifier(qualifier, known) {
				continue
			}
			refs = append(refs, Reference{
				Keyword: hashKeywords[i],
				Repo:    qualifier,
				Number:  m[2],
				Phrase:  m[0],
			})
		}
	}

	for _, m := range iprPattern.FindAllStringSubmatch(body, -1) {
		refs = append(refs, Reference{
			Keyword: "IPR",
			Number:  m[1],
			Phrase:  m[0],
		})
	}

	return refs
}

// knownQualifier checks the qualifier against the known set, by full name
// and by bare repository name.
func knownQualifier(qualifier string, known map[string]bool) bool {
	if known[qualifier] {
		return true
	}
	if idx := strings.LastIndex(qualifier, "/"); idx >= 0 {
		return known[qualifier[idx+1:]]
	}
	return false
}
