package httpapi

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/agentworkforce/liftrelay/internal/workout"
)

const pageTemplates = `
{{define "head"}}<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Title}}</title>
  <style>
    :root {
      --ink: #102223;
      --card: #fffdf9;
      --line: #d7cbb3;
      --accent: #1f9d88;
      --danger: #c2483f;
      --muted: #6f7d7d;
      --shadow: 0 18px 36px rgba(16, 34, 35, 0.16);
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: "Space Grotesk", "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background: linear-gradient(140deg, #fff9ef 0%, #f1f8f7 45%, #fffdf9 100%);
      min-height: 100vh;
      padding: 20px;
    }
    .shell { max-width: 760px; margin: 0 auto; display: grid; gap: 14px; }
    .bar {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 18px;
      padding: 16px;
      box-shadow: var(--shadow);
    }
    .bar.danger { border-color: var(--danger); }
    h1 { margin: 0; font-size: clamp(1.2rem, 2vw, 1.75rem); }
    h2 { font-size: 1.05rem; margin: 18px 0 8px; }
    .sub { margin-top: 6px; color: var(--muted); font-size: 0.9rem; }
    table { width: 100%; border-collapse: collapse; font-size: 0.92rem; }
    th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid var(--line); }
    input { border-radius: 10px; border: 1px solid var(--line); padding: 8px 10px; font-size: 0.92rem; }
    fieldset { border: 1px solid var(--line); border-radius: 12px; margin: 10px 0; }
    .btn, button {
      display: inline-block;
      border: 0;
      border-radius: 10px;
      padding: 10px 12px;
      margin: 4px 4px 0 0;
      font-weight: 700;
      text-decoration: none;
      color: #ffffff;
      background: var(--accent);
      cursor: pointer;
    }
    .btn.danger, button.danger { background: var(--danger); }
  </style>
</head>
<body>
<main class="shell">
<section class="bar{{if .Danger}} danger{{end}}">
<h1>{{.Title}}</h1>
{{end}}

{{define "foot"}}
{{if .CorrelationID}}<p class="sub">Reference {{.CorrelationID}}</p>{{end}}
</section>
</main>
</body>
</html>
{{end}}

{{define "message"}}{{template "head" .}}
<p>{{.Message}}</p>
{{range .Links}}<a class="btn" href="{{.URL}}">{{.Label}}</a>{{end}}
{{template "foot" .}}{{end}}

{{define "confirm"}}{{template "head" .}}
<p>{{.Message}}</p>
<form method="post" action="{{.Action}}">
{{range .Fields}}<input type="hidden" name="{{.Name}}" value="{{.Value}}" />
{{end}}<button class="danger" type="submit">Delete</button>
</form>
{{template "foot" .}}{{end}}

{{define "plan"}}{{template "head" .}}
<p class="sub">Days without a title or without exercises are dropped when saved.</p>
<form method="post" action="{{.Action}}">
{{range .Fields}}<input type="hidden" name="{{.Name}}" value="{{.Value}}" />
{{end}}{{range $day := .Plan}}<fieldset>
<input name="days[{{$day.Index}}][title]" value="{{$day.Title}}" placeholder="Day title" />
<input name="days[{{$day.Index}}][target_muscles]" value="{{$day.Muscles}}" placeholder="Target muscles" />
<table>
<tr><th>Exercise</th><th>Sets</th><th>Reps</th></tr>
{{range $ex := $day.Exercises}}<tr>
<td><input type="hidden" name="days[{{$day.Index}}][exercises][{{$ex.Index}}][id]" value="{{$ex.ID}}" /><input name="days[{{$day.Index}}][exercises][{{$ex.Index}}][name]" value="{{$ex.Name}}" /></td>
<td><input name="days[{{$day.Index}}][exercises][{{$ex.Index}}][sets]" value="{{$ex.Sets}}" size="4" /></td>
<td><input name="days[{{$day.Index}}][exercises][{{$ex.Index}}][reps]" value="{{$ex.Reps}}" size="6" /></td>
</tr>
{{end}}</table>
</fieldset>
{{end}}<button type="submit">Save plan</button>
</form>
{{template "foot" .}}{{end}}

{{define "activity"}}{{template "head" .}}
{{with .Activity}}
<p>{{.CompletedDays}} of {{.TotalDays}} days completed ({{percent .AdherenceRate}}).</p>
{{if .Days}}
<h2>Days</h2>
<table>
<tr><th>Date</th><th>Completed</th><th></th></tr>
{{range .Days}}<tr><td>{{.Date}}</td><td>{{join .Completed}}</td><td>{{with index $.DayLinks .Date}}<a href="{{.}}">delete</a>{{end}}</td></tr>
{{end}}</table>
<h2>Months</h2>
<table>
<tr><th>Month</th><th>Days</th><th>Completed</th><th></th></tr>
{{range .Months}}<tr><td>{{.Year}}-{{.Month}}</td><td>{{.Days}}</td><td>{{.CompletedDays}}</td><td>{{with index $.MonthLinks (printf "%s-%s" .Year .Month)}}<a href="{{.}}">delete</a>{{end}}</td></tr>
{{end}}</table>
{{if .PerItem}}<h2>Per item</h2>
<table>
<tr><th>Item</th><th>Times</th></tr>
{{range .PerItem}}<tr><td>{{.Item}}</td><td>{{.Count}}</td></tr>
{{end}}</table>{{end}}
{{else}}
<p>No activity recorded yet.</p>
{{end}}
{{end}}
{{if .AllLink}}<a class="btn danger" href="{{.AllLink}}">Delete all history</a>{{end}}
{{template "foot" .}}{{end}}
`

var pages = template.Must(template.New("pages").Funcs(template.FuncMap{
	"join": func(items []string) string { return strings.Join(items, ", ") },
	"percent": func(rate float64) string {
		return fmt.Sprintf("%.0f%%", rate*100)
	},
}).Parse(pageTemplates))

type hiddenField struct {
	Name  string
	Value string
}

type exerciseView struct {
	Index int
	ID    string
	Name  string
	Sets  string
	Reps  string
}

type planDayView struct {
	Index     int
	Title     string
	Muscles   string
	Exercises []exerciseView
}

type page struct {
	Title         string
	Message       string
	CorrelationID string
	Danger        bool
	Links         []Link

	Action string
	Fields []hiddenField
	Plan   []planDayView

	Activity   *workout.Activity
	DayLinks   map[string]string
	MonthLinks map[string]string
	AllLink    string
}

const blankExerciseRows = 2

// planViews lays out the editable form: every stored day with spare
// exercise rows, followed by one empty day.
func planViews(days []workout.PlanDay) []planDayView {
	views := make([]planDayView, 0, len(days)+1)
	for i, day := range days {
		view := planDayView{Index: i, Title: day.Title, Muscles: strings.Join(day.TargetMuscles, ", ")}
		for j, ex := range day.Exercises {
			view.Exercises = append(view.Exercises, exerciseView{
				Index: j, ID: ex.ID, Name: ex.Name, Sets: string(ex.Sets), Reps: string(ex.Reps),
			})
		}
		for j := 0; j < blankExerciseRows; j++ {
			view.Exercises = append(view.Exercises, exerciseView{Index: len(day.Exercises) + j})
		}
		views = append(views, view)
	}
	blank := planDayView{Index: len(days)}
	for j := 0; j < blankExerciseRows+1; j++ {
		blank.Exercises = append(blank.Exercises, exerciseView{Index: j})
	}
	return append(views, blank)
}

func renderPage(w http.ResponseWriter, status int, name string, data page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pages.ExecuteTemplate(w, name, data)
}
