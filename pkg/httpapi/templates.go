package httpapi

import "html/template"

// crawlerPreviewTemplate renders the page served to link-preview bots (plain
// browser visits get downloadPageTemplate instead): metadata only, no
// invitation to start the transfer, since an unattended crawler fetch must
// never claim the single receiver slot.
var crawlerPreviewTemplate = template.Must(template.New("crawler-preview").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{.Name}} — Transit</title>
  <meta name="robots" content="noindex">
  <meta property="og:title" content="{{.Name}}">
  <meta property="og:description" content="{{.SizeLabel}} &middot; {{.TypeLabel}}">
</head>
<body>
  <h1>{{.Name}}</h1>
  <p>{{.SizeLabel}} &middot; {{.TypeLabel}}</p>
</body>
</html>
`))

// downloadPageTemplate renders the browser-facing interstitial that offers
// to start the download. It reports whether a receiver already claimed the
// slot so a human refreshing the page can tell a download is underway
// elsewhere before they click through and hit a conflict.
var downloadPageTemplate = template.Must(template.New("download").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{.Name}} — Transit</title>
  <meta name="robots" content="noindex">
</head>
<body>
  <h1>{{.Name}}</h1>
  <p>{{.SizeLabel}} &middot; {{.TypeLabel}}</p>
  {{if .ReceiverConnected}}
  <p>A download of this file is already in progress.</p>
  {{end}}
  <p>Ready to download.</p>
  <a href="?download=true" download="{{.Name}}">Download</a>
</body>
</html>
`))

// PreviewData is the view model crawlerPreviewTemplate renders.
type PreviewData struct {
	Name      string
	SizeLabel string
	TypeLabel string
}

// DownloadPageData is the view model downloadPageTemplate renders.
type DownloadPageData struct {
	Name              string
	SizeLabel         string
	TypeLabel         string
	ReceiverConnected bool
}
