package hmr

import (
	"bytes"
	"html/template"
	"strconv"
)

var clientTemplate = template.Must(template.New("client").Parse(`<script type="module">
  const url = new URL({{ .Path }}, location.href);
  if ({{ .Port }} > 0) url.port = {{ .Port }};
  const source = new EventSource(url);
  source.addEventListener("connected", () => console.debug("[devserve] connected"));
  source.addEventListener("reload", (e) => {
    console.debug("[devserve] reload", JSON.parse(e.data).paths);
    location.reload();
  });
  source.addEventListener("error", (e) => {
    if (e.data) console.error("[devserve] build failed\n" + JSON.parse(e.data).message);
  });
</script>
`))

// ClientScript returns the script tag injected into index.html during development.
// The browser connects to clientPort on the page's host, or to the page's own port
// when clientPort is 0, which lets the dev server sit behind a port mapping.
func ClientScript(clientPort int) (string, error) {
	var buf bytes.Buffer
	err := clientTemplate.Execute(&buf, map[string]any{
		"Path": Path,
		"Port": strconv.Itoa(clientPort),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
