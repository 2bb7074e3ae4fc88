package matcherino

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/hitoshi/teamsync/internal/model"
	"github.com/hitoshi/teamsync/internal/security"
)

// junkMemberNames はプレイヤーではないことが明らかなエントリ名。
// 外部サイト上の「チーム募集」等のダミーエントリを読み飛ばす。
var junkMemberNames = map[string]bool{
	"do not make a team": true,
	"dont make a team":   true,
	"don't make a team":  true,
	"looking for team":   true,
}

// Parser は生ペイロードをScrapedTeam列へ構造化する。
// 入力のみから決定される純粋な変換であり、チーム・メンバーの順序は
// ペイロードの出現順を保持する。個別レコードの欠落・破損は読み飛ばして
// 数えるだけで、ルート構造が認識不能な場合のみParseErrorを返す。
type Parser struct {
	sanitizer security.NameSanitizerService
	logger    *slog.Logger
}

// NewParser はParserの新しいインスタンスを生成する。
func NewParser(sanitizer security.NameSanitizerService, logger *slog.Logger) *Parser {
	return &Parser{
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// ParseResult は構造化の結果を表す。
type ParseResult struct {
	Teams []model.ScrapedTeam
	// Skipped は解釈できず読み飛ばした個別レコード数。
	// ルートが認識可能な限りスキップは致命的ではない。
	Skipped int
}

// Parse はペイロードを構造化する。JSON（APIレスポンス）と
// HTML（公開ページのフォールバック）の両方に対応する。
func (p *Parser) Parse(payload []byte) (*ParseResult, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, &model.ParseError{Reason: "ペイロードが空です"}
	}

	switch trimmed[0] {
	case '{':
		return p.parseJSON(trimmed)
	case '<':
		return p.parseHTML(trimmed)
	default:
		return nil, &model.ParseError{Reason: "JSONでもHTMLでもないペイロードです"}
	}
}

// teamsPayload はチームAPIレスポンスのルート構造。
type teamsPayload struct {
	Body *struct {
		Teams []json.RawMessage `json:"teams"`
	} `json:"body"`
}

// rawMember はAPIレスポンス中のメンバー1名。
type rawMember struct {
	DisplayName     string      `json:"displayName"`
	UserID          json.Number `json:"userId"`
	Captain         bool        `json:"captain"`
	ParticipantInfo struct {
		GameUsername string `json:"gameUsername"`
	} `json:"participantInfo"`
}

// rawTeam はAPIレスポンス中のチーム1件。メンバーはトップレベルの
// membersと、ネストしたteam.membersの両方の形がある。
type rawTeam struct {
	Name         string      `json:"name"`
	ID           json.Number `json:"id"`
	BountyTeamID json.Number `json:"bountyTeamId"`
	Members      []rawMember `json:"members"`
	Team         *struct {
		ID      json.Number `json:"id"`
		Members []rawMember `json:"members"`
	} `json:"team"`
}

// parseJSON はチームAPIレスポンスを構造化する。
func (p *Parser) parseJSON(payload []byte) (*ParseResult, error) {
	var root teamsPayload
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, &model.ParseError{Reason: "JSONとして解釈できません"}
	}
	if root.Body == nil || root.Body.Teams == nil {
		return nil, &model.ParseError{Reason: "body.teamsが存在しません"}
	}

	result := &ParseResult{}

	for _, raw := range root.Body.Teams {
		var team rawTeam
		if err := json.Unmarshal(raw, &team); err != nil {
			result.Skipped++
			p.logger.Warn("解釈できないチームレコードを読み飛ばしました",
				slog.String("error", err.Error()),
			)
			continue
		}

		teamName := p.sanitizer.Sanitize(team.Name)
		if teamName == "" {
			result.Skipped++
			continue
		}

		// トップレベルのmembersを優先し、空ならネスト構造を参照する
		rawMembers := team.Members
		externalTeamID := team.ID.String()
		if len(rawMembers) == 0 && team.Team != nil {
			rawMembers = team.Team.Members
			if externalTeamID == "" {
				externalTeamID = team.Team.ID.String()
			}
		}
		if externalTeamID == "" {
			externalTeamID = team.BountyTeamID.String()
		}

		scraped := model.ScrapedTeam{
			ExternalTeamID: externalTeamID,
			TeamName:       teamName,
		}

		for _, m := range rawMembers {
			name := p.sanitizer.Sanitize(m.DisplayName)
			if name == "" || junkMemberNames[strings.ToLower(name)] {
				result.Skipped++
				continue
			}
			scraped.Members = append(scraped.Members, model.ScrapedMember{
				DisplayName:      name,
				ExternalMemberID: m.UserID.String(),
				GameUsername:     p.sanitizer.Sanitize(m.ParticipantInfo.GameUsername),
				Captain:          m.Captain,
			})
		}

		result.Teams = append(result.Teams, scraped)
	}

	return result, nil
}
