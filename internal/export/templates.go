package export

import (
	"bytes"
	"html/template"
	"time"
)

var funcMap = template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}

var (
	leaderboardTemplate = template.Must(template.New("leaderboard").Funcs(funcMap).Parse(leaderboardHTML))
	pollTemplate        = template.Must(template.New("poll").Funcs(funcMap).Parse(pollHTML))
)

// LeaderboardData holds data for leaderboard template rendering
type LeaderboardData struct {
	Title       string
	GeneratedAt time.Time
	Rows        []RankedUser
}

// PollRow is one option line in the poll report
type PollRow struct {
	Option string
	Votes  int
	Share  string
}

// PollData holds data for poll template rendering
type PollData struct {
	Question    string
	GeneratedAt time.Time
	TotalVotes  int
	Active      bool
	Rows        []PollRow
}

// RenderLeaderboardHTML renders the leaderboard template with provided data
func RenderLeaderboardHTML(data LeaderboardData) (string, error) {
	var buf bytes.Buffer
	if err := leaderboardTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPollHTML renders the poll results template with provided data
func RenderPollHTML(data PollData) (string, error) {
	var buf bytes.Buffer
	if err := pollTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const leaderboardHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; }
    th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #ddd; }
    th { background: #f5f5f5; }
    td.num { text-align: right; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}}</div>
  <table>
    <tr><th>#</th><th>Student</th><th>Credits</th><th>Perfected Quizzes</th></tr>
    {{range .Rows}}<tr><td>{{.Rank}}</td><td>{{.DisplayName}}</td><td class="num">{{.Credits}}</td><td class="num">{{.Perfected}}</td></tr>
    {{end}}
  </table>
</body>
</html>`

const pollHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Poll Results</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; }
    th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #ddd; }
    th { background: #f5f5f5; }
    td.num { text-align: right; }
  </style>
</head>
<body>
  <h1>{{.Question}}</h1>
  <div class="meta">
    Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}} |
    {{.TotalVotes}} votes | {{if .Active}}active{{else}}closed{{end}}
  </div>
  <table>
    <tr><th>Option</th><th>Votes</th><th>Share</th></tr>
    {{range .Rows}}<tr><td>{{.Option}}</td><td class="num">{{.Votes}}</td><td class="num">{{.Share}}</td></tr>
    {{end}}
  </table>
</body>
</html>`
