// Package intent classifies raw instructions into typed intents.
//
// Classification is a single pass over an ordered rule list; the first
// matching rule wins. Precedence is load-bearing: reordering the rules
// changes observed behaviour, so the order is fixed and tested.
package intent

import (
	"regexp"
	"strings"
)

// Kind is the intent variant.
type Kind int

const (
	KindCodingRequest Kind = iota
	KindInlineCommand
	KindSwitchRepo
	KindListRepos
	KindRepoStatus
	KindRepoInfo
)

func (k Kind) String() string {
	switch k {
	case KindCodingRequest:
		return "coding_request"
	case KindInlineCommand:
		return "inline_command"
	case KindSwitchRepo:
		return "switch_repo"
	case KindListRepos:
		return "list_repos"
	case KindRepoStatus:
		return "repo_status"
	case KindRepoInfo:
		return "repo_info"
	default:
		return "unknown"
	}
}

// Intent is the classified form of one instruction. Repo is set for
// inline, switch and info intents; Payload for inline and coding
// intents.
type Intent struct {
	Kind    Kind
	Repo    string
	Payload string
}

// Repository tokens are restricted to a safe charset; anything else falls
// through to the coding-request rule.
const repoToken = `([a-zA-Z0-9_-]+)`

var (
	// The colon is optional, but the repo token must end at a colon or
	// whitespace so that "in a/b: x" falls through instead of matching
	// a truncated name.
	inlineRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^in ` + repoToken + `(?::\s*|\s+)(.+)$`),
		regexp.MustCompile(`(?i)^for ` + repoToken + `(?::\s*|\s+)(.+)$`),
		regexp.MustCompile(`(?i)^on ` + repoToken + `(?::\s*|\s+)(.+)$`),
		regexp.MustCompile(`(?i)^@` + repoToken + `(?::\s*|\s+)(.+)$`),
	}

	switchRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^switch to ` + repoToken + `$`),
		regexp.MustCompile(`(?i)^use ` + repoToken + `$`),
		regexp.MustCompile(`(?i)^go to ` + repoToken + `$`),
		regexp.MustCompile(`(?i)^work on ` + repoToken + `$`),
		regexp.MustCompile(`(?i)^change to ` + repoToken + `$`),
	}

	listRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^list repos?$`),
		regexp.MustCompile(`(?i)^list repositories$`),
		regexp.MustCompile(`(?i)^show repos?$`),
		regexp.MustCompile(`(?i)^show repositories$`),
		regexp.MustCompile(`(?i)^what repos?$`),
		regexp.MustCompile(`(?i)^my repos?$`),
		regexp.MustCompile(`(?i)^repos?$`),
	}

	statusRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^repos? status$`),
		regexp.MustCompile(`(?i)^status all$`),
		regexp.MustCompile(`(?i)^all status$`),
	}

	infoRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^info\s+` + repoToken + `$`),
		regexp.MustCompile(`(?i)^show\s+` + repoToken + `$`),
		regexp.MustCompile(`(?i)^describe\s+` + repoToken + `$`),
		regexp.MustCompile(`(?i)^details?\s+` + repoToken + `$`),
	}
)

// Parse classifies one raw instruction. Exactly one intent is produced;
// anything that matches no rule is a coding request against the user's
// active repository.
func Parse(text string) Intent {
	text = strings.TrimSpace(text)

	// 1. Inline repository targeting: "in api: add an endpoint".
	for _, re := range inlineRes {
		if m := re.FindStringSubmatch(text); m != nil {
			return Intent{Kind: KindInlineCommand, Repo: m[1], Payload: strings.TrimSpace(m[2])}
		}
	}

	// 2. Switch verbs: "switch to api".
	for _, re := range switchRes {
		if m := re.FindStringSubmatch(text); m != nil {
			return Intent{Kind: KindSwitchRepo, Repo: m[1]}
		}
	}

	// 3. Fixed keywords. List patterns run before info so that
	// "show repos" lists rather than asking about a repo named "repos".
	for _, re := range listRes {
		if re.MatchString(text) {
			return Intent{Kind: KindListRepos}
		}
	}
	for _, re := range statusRes {
		if re.MatchString(text) {
			return Intent{Kind: KindRepoStatus}
		}
	}
	for _, re := range infoRes {
		if m := re.FindStringSubmatch(text); m != nil {
			return Intent{Kind: KindRepoInfo, Repo: m[1]}
		}
	}

	// 4. Fallback: the whole instruction is a coding request.
	return Intent{Kind: KindCodingRequest, Payload: text}
}
