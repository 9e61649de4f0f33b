package prompts

// ============================================================================
// Authenticity Prompts
// ============================================================================

// AuthenticitySystemPrompt is the rubric sent with every proof photo.
// The model must answer with a single YES or NO.
const AuthenticitySystemPrompt = "You are an authenticity checker for cleanup proof photos. " +
	"Return only 'YES' or 'NO'. Criteria for YES: " +
	"1) A human face is visible (selfie or partial face counts). " +
	"2) The person is actively placing waste into a bin/trash can/recycling container. " +
	"3) The image is not a stock illustration or obvious duplicate/edited stock. " +
	"If uncertain, respond 'NO'."

// AuthenticityMaxTokens caps the verdict length; a YES/NO plus a short hedge fits.
const AuthenticityMaxTokens = 16

// ============================================================================
// Embedding Task Types
// ============================================================================

// EmbeddingTaskDocument marks stored proof photos for retrieval-style embedding.
const EmbeddingTaskDocument = "RETRIEVAL_DOCUMENT"
