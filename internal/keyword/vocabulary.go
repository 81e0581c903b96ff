package keyword

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// businessTerms are product-evaluation nouns that are always worth surfacing
// as mentions.
var businessTerms = set(
	"analytics", "api", "automation", "billing", "collaboration", "compliance",
	"configuration", "customization", "dashboard", "documentation", "integration",
	"integrations", "interface", "licensing", "migration", "mobile", "notifications",
	"onboarding", "performance", "permissions", "pricing", "reliability", "reporting",
	"reports", "scalability", "security", "setup", "support", "training", "uptime",
	"usability", "workflow", "workflows",
)

// stopWords are common English words with no value as keywords. Only words
// of three or more letters are listed since shorter tokens are dropped anyway.
var stopWords = set(
	"about", "above", "after", "again", "against", "all", "also", "and", "any",
	"are", "because", "been", "before", "being", "below", "between", "both", "but",
	"can", "could", "did", "does", "doing", "down", "during", "each", "even", "few",
	"for", "from", "further", "get", "got", "had", "has", "have", "having", "her",
	"here", "hers", "herself", "him", "himself", "his", "how", "into", "its",
	"itself", "just", "more", "most", "much", "myself", "nor", "not", "now", "off",
	"once", "only", "other", "our", "ours", "ourselves", "out", "over", "own",
	"really", "same", "she", "should", "some", "such", "than", "that", "the",
	"their", "theirs", "them", "themselves", "then", "there", "these", "they",
	"this", "those", "through", "too", "under", "until", "use", "used", "using",
	"very", "was", "way", "were", "what", "when", "where", "which", "while", "who",
	"whom", "why", "will", "with", "would", "you", "your", "yours", "yourself",
	"yourselves",
)
