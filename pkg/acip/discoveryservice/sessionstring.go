package discoveryservice

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

// sessionStringPattern is the session-string grammar: three lowercase
// words joined by single hyphens, no leading/trailing hyphen, <= 47 chars.
var sessionStringPattern = regexp.MustCompile(`^[a-z]+-[a-z]+-[a-z]+$`)

const maxSessionStringLen = 47

// maxGenerationAttempts bounds how many random triples session string
// generation will try before giving up with Exhausted.
const maxGenerationAttempts = 64

// These three embedded wordlists are deliberately small and disjoint by
// role (adjective / noun / noun) so the product reads naturally, e.g.
// "swift-river-canyon". Combined they offer well over ten thousand
// distinct triples, adequate for a single discovery-service's live
// session count.
var adjectives = []string{
	"swift", "quiet", "bold", "calm", "eager", "brave", "bright", "crisp",
	"dark", "deep", "fair", "fast", "fierce", "gentle", "golden", "grand",
	"grey", "happy", "keen", "kind", "lively", "lone", "lucky", "misty",
	"mellow", "mighty", "noble", "proud", "quick", "quiet", "rapid", "rare",
	"sharp", "silent", "silver", "sleek", "small", "smooth", "solid", "steady",
	"still", "stormy", "strong", "sunny", "sweet", "tall", "tame", "tidy",
	"tiny", "vivid", "warm", "wild", "wise", "young",
}

var middleNouns = []string{
	"river", "forest", "mountain", "valley", "ocean", "desert", "canyon",
	"meadow", "island", "harbor", "glacier", "prairie", "summit", "ridge",
	"delta", "cove", "reef", "plateau", "marsh", "tundra", "grove", "cliff",
	"lagoon", "basin", "fjord", "dune", "orchard", "thicket", "bluff",
	"gorge", "bayou", "spring", "brook", "ledge", "hollow",
}

var finalNouns = []string{
	"canyon", "falcon", "otter", "heron", "fox", "wolf", "hawk", "bear",
	"eagle", "lynx", "raven", "badger", "stag", "owl", "panther", "cobra",
	"tiger", "lion", "jaguar", "moose", "deer", "beaver", "crane", "dove",
	"sparrow", "swan", "turtle", "viper", "gecko", "mantis", "falcon",
	"marten", "weasel", "heron", "egret", "puffin",
}

// ValidateSessionString reports whether s matches the session-string grammar.
func ValidateSessionString(s string) bool {
	return len(s) <= maxSessionStringLen && sessionStringPattern.MatchString(s)
}

func randomWord(words []string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return "", acerr.Wrap(acerr.InvalidState, "generate random word index", err)
	}
	return words[n.Int64()], nil
}

// GenerateSessionString produces a three-word session string, failing
// with Exhausted when the caller's exists predicate rejects every
// candidate within maxGenerationAttempts.
func GenerateSessionString(exists func(string) (bool, error)) (string, error) {
	for attempt := 0; attempt < maxGenerationAttempts; attempt++ {
		a, err := randomWord(adjectives)
		if err != nil {
			return "", err
		}
		b, err := randomWord(middleNouns)
		if err != nil {
			return "", err
		}
		c, err := randomWord(finalNouns)
		if err != nil {
			return "", err
		}
		candidate := strings.Join([]string{a, b, c}, "-")

		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", acerr.New(acerr.Exhausted, fmt.Sprintf("no unused session string found in %d attempts", maxGenerationAttempts))
}
