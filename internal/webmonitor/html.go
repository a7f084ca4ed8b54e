package webmonitor

import (
	"html/template"
	"io"

	"github.com/dj-oyu/ppe-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/ppe-safety-monitor/internal/recorder"
)

const timeLayout = "2006-01-02 15:04:05"

type logRow struct {
	UID      int64
	Time     string
	Class    string
	Workshop string
	ViewURL  string
}

type listPage struct {
	Title     string
	Notice    string
	Logs      []logRow
	Total     int
	PageSize  int
	Run       pipeline.RunStatus
	Recording recorder.RecordingStatus
}

// More reports whether the table hides older records.
func (p listPage) More() bool {
	return p.Total > p.PageSize
}

type detailPage struct {
	Title    string
	Found    bool
	Message  string
	Record   logRow
	ImageURL string
	BackURL  string
}

var pages = template.Must(template.New("pages").Parse(`
{{define "head"}}<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/monitor.css">
    <script src="/assets/monitor.js" defer></script>
</head>
<body>
{{end}}

{{define "list"}}{{template "head" .}}
<div class="app">
    <aside class="sidebar">
        <h2>Settings</h2>
        <form method="post" action="/api/detection/start" enctype="multipart/form-data">
            <label for="source">Select video source</label>
            <select id="source" name="source">
                <option value="camera">Local Camera</option>
                <option value="file">Video File</option>
            </select>
            <label for="video">Video file</label>
            <input id="video" type="file" name="video" accept="video/*">
            <button class="btn btn-primary" type="submit">Run Detection</button>
        </form>
        <form method="post" action="/api/detection/stop">
            <button class="btn btn-danger" type="submit">Stop Detection</button>
        </form>
        <form method="post" action="/api/recording/{{if .Recording.Recording}}stop{{else}}start{{end}}">
            <button class="btn" type="submit">{{if .Recording.Recording}}Stop Recording{{else}}Record{{end}}</button>
        </form>
        <p class="status" id="run-status">Detection: {{.Run.State}}{{with .Run.Source}} · {{.}}{{end}}{{with .Run.Err}} · {{.}}{{end}}</p>
    </aside>
    <main class="main">
        <h1 class="title">{{.Title}}</h1>
        {{with .Notice}}<div class="notice">{{.}}</div>{{end}}
        <div class="alert-banner" id="alert-banner"></div>
        <div class="camera">
            <img id="stream" src="/stream" alt="Annotated live stream">
        </div>
        <section class="logs">
            <h2>Logs</h2>
            {{if .Logs}}
            <table id="log-table">
                <tr><th>ID</th><th>Time</th><th>Violation</th><th>Workshop</th><th>Action</th></tr>
                {{range .Logs}}
                <tr><td>{{.UID}}</td><td>{{.Time}}</td><td>{{.Class}}</td><td>{{.Workshop}}</td><td><a href="{{.ViewURL}}">View</a></td></tr>
                {{end}}
            </table>
            {{else}}
            <p class="muted">No logs found.</p>
            {{end}}
            {{if .More}}<p class="muted">Showing {{.PageSize}} of {{.Total}} logs. Use the scroll bar to see more.</p>{{end}}
        </section>
    </main>
</div>
</body>
</html>
{{end}}

{{define "detail"}}{{template "head" .}}
<div class="main detail">
    <h1 class="title">{{.Title}}</h1>
    <div class="alert-banner" id="alert-banner"></div>
    {{if .Found}}
    <p><strong>Violation Time:</strong> {{.Record.Time}}</p>
    <p><strong>Violation Name:</strong> {{.Record.Class}}</p>
    <p><strong>Workshop Name:</strong> {{.Record.Workshop}}</p>
    <figure>
        <img src="{{.ImageURL}}" alt="Violation snapshot">
        <figcaption>Violation: {{.Record.Class}}</figcaption>
    </figure>
    {{else}}
    <p class="notice">{{.Message}}</p>
    {{end}}
    <a class="btn" id="back" href="{{.BackURL}}">Back</a>
</div>
</body>
</html>
{{end}}
`))

func renderList(w io.Writer, p listPage) error {
	return pages.ExecuteTemplate(w, "list", p)
}

func renderDetail(w io.Writer, p detailPage) error {
	return pages.ExecuteTemplate(w, "detail", p)
}
