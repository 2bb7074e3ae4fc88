package matcherino

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/teamsync/internal/model"
)

// parseHTML は公開トーナメントページのHTMLからロースターを抽出する。
// APIが使えない場合のフォールバック。data-team-id属性を持つ要素を
// チームとして扱い、見出し要素をチーム名、data-member-id属性を持つ
// リスト項目をメンバーとして文書順に読み取る。
func (p *Parser) parseHTML(payload []byte) (*ParseResult, error) {
	doc, err := html.Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, &model.ParseError{Reason: "HTMLとして解釈できません"}
	}

	result := &ParseResult{}
	p.walkTeamNodes(doc, result)

	if len(result.Teams) == 0 && result.Skipped == 0 {
		return nil, &model.ParseError{Reason: "HTML中にロースター構造が見つかりません"}
	}

	return result, nil
}

// walkTeamNodes は文書を深さ優先で走査し、チーム要素を出現順に収集する。
func (p *Parser) walkTeamNodes(n *html.Node, result *ParseResult) {
	if n.Type == html.ElementNode {
		if teamID, ok := attrValue(n, "data-team-id"); ok {
			p.collectTeam(n, teamID, result)
			return // チーム要素の内側は収集済み
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.walkTeamNodes(c, result)
	}
}

// collectTeam は1つのチーム要素からチーム名とメンバーを読み取る。
func (p *Parser) collectTeam(n *html.Node, teamID string, result *ParseResult) {
	teamName := p.sanitizer.Sanitize(findHeadingText(n))
	if teamName == "" {
		result.Skipped++
		return
	}

	team := model.ScrapedTeam{
		ExternalTeamID: teamID,
		TeamName:       teamName,
	}

	collectMembers(n, func(memberNode *html.Node, memberID string) {
		name := p.sanitizer.Sanitize(nodeText(memberNode))
		if name == "" || junkMemberNames[strings.ToLower(name)] {
			result.Skipped++
			return
		}
		team.Members = append(team.Members, model.ScrapedMember{
			DisplayName:      name,
			ExternalMemberID: memberID,
		})
	})

	result.Teams = append(result.Teams, team)
}

// collectMembers はチーム要素内のli要素を文書順に列挙する。
func collectMembers(n *html.Node, visit func(*html.Node, string)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "li" {
			memberID, _ := attrValue(c, "data-member-id")
			visit(c, memberID)
			continue
		}
		collectMembers(c, visit)
	}
}

// findHeadingText はチーム要素内の最初の見出し（h1〜h4）のテキストを返す。
func findHeadingText(n *html.Node) string {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4":
			return nodeText(n)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if text := findHeadingText(c); text != "" {
			return text
		}
	}
	return ""
}

// nodeText は要素配下のテキストノードを連結して返す。
func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		buf.WriteString(nodeText(c))
	}
	return buf.String()
}

// attrValue は指定属性の値を返す。
func attrValue(n *html.Node, key string) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}
