package businessflow

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/amirphl/broadcast-hub/repository"
	"github.com/amirphl/broadcast-hub/utils"
)

var (
	selectKeywordRE   = regexp.MustCompile(`(?i)^select\b`)
	forbiddenSQLRE    = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|grant|revoke|attach|commit|rollback)\b|;`)
	userIDReferenceRE = regexp.MustCompile(`(?i)\buser_id\b`)
)

// ValidateAudienceSQL accepts a single read-only SELECT that references user_id.
// It never touches the database.
func ValidateAudienceSQL(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return NewBusinessError("AUDIENCE_SQL_EMPTY", "SQL is empty", ErrAudienceSQLEmpty)
	}

	if !selectKeywordRE.MatchString(stripLeadingSQLComments(trimmed)) {
		return NewBusinessError("AUDIENCE_SQL_NOT_SELECT", "Only SELECT queries are allowed", ErrAudienceSQLNotSelect)
	}

	if m := forbiddenSQLRE.FindString(trimmed); m != "" {
		return NewBusinessErrorf("AUDIENCE_SQL_FORBIDDEN", "SQL contains forbidden construct %q", ErrAudienceSQLForbiddenKeyword, strings.ToUpper(m))
	}

	if !userIDReferenceRE.MatchString(trimmed) {
		return NewBusinessError("AUDIENCE_SQL_USER_ID_MISSING", "SQL must return a user_id column", ErrAudienceSQLMissingUserID)
	}

	if utf8.RuneCountInString(trimmed) > utils.AudienceSQLMaxLength {
		return NewBusinessErrorf("AUDIENCE_SQL_TOO_LONG", "SQL is longer than %d characters", ErrAudienceSQLTooLong, utils.AudienceSQLMaxLength)
	}

	return nil
}

// stripLeadingSQLComments drops any run of leading -- and /* */ comments
func stripLeadingSQLComments(s string) string {
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		switch {
		case strings.HasPrefix(s, "--"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return ""
			}
			s = s[idx+1:]
		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s[2:], "*/")
			if idx < 0 {
				return ""
			}
			s = s[idx+4:]
		default:
			return s
		}
	}
}

// AudienceSQLGuard validates audience SQL and runs it as a bounded preview
type AudienceSQLGuard struct {
	audienceSQLRepo repository.AudienceSQLRepository
}

func NewAudienceSQLGuard(audienceSQLRepo repository.AudienceSQLRepository) *AudienceSQLGuard {
	return &AudienceSQLGuard{audienceSQLRepo: audienceSQLRepo}
}

// ExecutePreview validates sql and returns up to limit distinct user ids it selects.
// Validation failures are returned before any query runs.
func (g *AudienceSQLGuard) ExecutePreview(ctx context.Context, sql string, limit int) ([]int64, error) {
	if err := ValidateAudienceSQL(sql); err != nil {
		return nil, err
	}

	if limit < 0 {
		limit = 0
	}

	ids, err := g.audienceSQLRepo.PreviewUserIDs(ctx, strings.TrimSpace(sql), limit)
	if err != nil {
		return nil, databaseError("AUDIENCE_SQL_EXECUTION_FAILED", "Failed to execute audience SQL", err)
	}

	return ids, nil
}
