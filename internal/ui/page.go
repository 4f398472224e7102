package ui

import (
	"html/template"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// PageData fills the page template.
type PageData struct {
	Title       string
	MaxUploadMB int
}

var pageTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 900px; margin: 0 auto; }
        .card { background: white; border-radius: 8px; padding: 20px; margin-bottom: 20px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .preview { max-width: 100%; max-height: 320px; display: none; margin-top: 12px; border-radius: 6px; }
        .result { font-size: 22px; font-weight: bold; }
        .bar { height: 10px; background: #eee; border-radius: 5px; overflow: hidden; margin: 8px 0; }
        .fill { height: 100%; background: #2196f3; width: 0; }
        .stats { display: grid; grid-template-columns: repeat(auto-fit, minmax(150px, 1fr)); gap: 12px; }
        .stat .label { color: #666; font-size: 13px; }
        .stat .value { font-size: 24px; font-weight: bold; }
        .error { color: #c62828; }
        .ok { color: #2e7d32; }
        .hidden { display: none; }
        button { padding: 8px 16px; margin-right: 8px; border: none; border-radius: 4px; cursor: pointer; background: #1976d2; color: white; }
        button.secondary { background: #757575; }
        .status { font-size: 12px; color: #999; }
    </style>
</head>
<body>
<div class="container">
    <h1>{{.Title}}</h1>

    <div class="card">
        <input type="file" id="file" accept="image/png,image/jpeg,image/gif">
        <span class="status">PNG, JPG or GIF up to {{.MaxUploadMB}}MB</span>
        <img id="preview" class="preview" alt="Preview">
        <div style="margin-top: 12px">
            <button id="predict" disabled>Predict</button>
            <button id="reset" class="secondary">Reset</button>
        </div>
        <p id="error" class="error"></p>
    </div>

    <div class="card hidden" id="result-card">
        <div class="result" id="result"></div>
        <div class="bar"><div class="fill" id="confidence-fill"></div></div>
        <div id="confidence"></div>
        <p>Is this prediction correct?</p>
        <button id="correct">Yes, correct</button>
        <button id="incorrect" class="secondary">No, incorrect</button>
        <p class="status">The model learns from your answer immediately. Your image is not stored.</p>
        <p id="feedback" class="ok"></p>
    </div>

    <div class="card">
        <h2>Learning statistics</h2>
        <div class="stats">
            <div class="stat"><div class="label">Total feedback</div><div class="value" id="total">0</div></div>
            <div class="stat"><div class="label">Accuracy</div><div class="value" id="accuracy">0%</div></div>
            <div class="stat"><div class="label">Correct</div><div class="value" id="correct-count">0</div></div>
            <div class="stat"><div class="label">Incorrect</div><div class="value" id="incorrect-count">0</div></div>
            <div class="stat"><div class="label">Online updates</div><div class="value" id="updates">0</div></div>
        </div>
        <p class="status">Last updated: <span id="updated">never</span> &middot; <span id="ws-status">connecting</span></p>
        <button id="save">Save model</button>
    </div>
</div>

<script>
    let selected = null;
    let lastResult = null;
    const $ = (id) => document.getElementById(id);

    function showError(msg) { $('error').textContent = msg || ''; }

    function reset() {
        selected = null;
        lastResult = null;
        $('file').value = '';
        $('preview').style.display = 'none';
        $('predict').disabled = true;
        $('result-card').classList.add('hidden');
        $('feedback').textContent = '';
        showError('');
    }

    $('file').addEventListener('change', (e) => {
        selected = e.target.files[0] || null;
        $('predict').disabled = !selected;
        $('result-card').classList.add('hidden');
        if (selected) {
            $('preview').src = URL.createObjectURL(selected);
            $('preview').style.display = 'block';
        }
    });

    $('reset').addEventListener('click', reset);

    $('predict').addEventListener('click', async () => {
        if (!selected) return;
        showError('');
        const form = new FormData();
        form.append('image', selected);
        try {
            const resp = await fetch('/api/predict', { method: 'POST', body: form });
            const data = await resp.json();
            if (!data.success) { showError(data.error || 'Prediction failed'); return; }
            lastResult = data;
            $('result').textContent = data.gender;
            $('confidence').textContent = 'Confidence: ' + data.confidence + '%';
            $('confidence-fill').style.width = data.confidence + '%';
            $('feedback').textContent = '';
            $('result-card').classList.remove('hidden');
        } catch (err) {
            showError('Failed to connect to server.');
        }
    });

    async function sendFeedback(correct) {
        if (!selected || !lastResult) return;
        const gender = correct ? lastResult.gender : (lastResult.gender === 'Male' ? 'Female' : 'Male');
        const form = new FormData();
        form.append('image', selected);
        form.append('correctGender', gender);
        form.append('prediction', lastResult.gender);
        try {
            const resp = await fetch('/api/feedback', { method: 'POST', body: form });
            const data = await resp.json();
            if (!data.success) { showError(data.error || 'Failed to submit feedback'); return; }
            $('feedback').textContent = data.message + ' (loss ' + data.training_loss.toFixed(4) + ')';
            setTimeout(reset, 2000);
        } catch (err) {
            showError('Failed to submit feedback');
        }
    }

    $('correct').addEventListener('click', () => sendFeedback(true));
    $('incorrect').addEventListener('click', () => sendFeedback(false));

    $('save').addEventListener('click', async () => {
        if (!window.confirm('Save the current model state? This will create a backup.')) return;
        try {
            const resp = await fetch('/api/save-model', { method: 'POST' });
            const data = await resp.json();
            if (!data.success) { showError(data.error || 'Failed to save model'); return; }
            alert(data.message + (data.backup_created ? '\n\nBackup created: ' + data.backup_created : ''));
        } catch (err) {
            showError('Failed to save model');
        }
    });

    function renderStats(s) {
        $('total').textContent = s.total_feedback;
        $('accuracy').textContent = s.accuracy + '%';
        $('correct-count').textContent = s.correct_predictions;
        $('incorrect-count').textContent = s.incorrect_predictions;
        $('updates').textContent = s.online_training_count;
        $('updated').textContent = s.last_updated ? new Date(s.last_updated).toLocaleString() : 'never';
    }

    function connect() {
        const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
        const ws = new WebSocket(proto + location.host + '/ws/stats');
        ws.onopen = () => { $('ws-status').textContent = 'live'; };
        ws.onmessage = (e) => renderStats(JSON.parse(e.data));
        ws.onclose = () => {
            $('ws-status').textContent = 'reconnecting';
            setTimeout(connect, 3000);
        };
    }

    fetch('/api/stats').then((r) => r.json()).then(renderStats).catch(() => {});
    connect();
</script>
</body>
</html>
`))

// Handler serves the page and the stats websocket.
type Handler struct {
	hub  *Hub
	data PageData
}

func NewHandler(hub *Hub, data PageData) *Handler {
	if data.Title == "" {
		data.Title = "Gender Classifier"
	}
	return &Handler{hub: hub, data: data}
}

// Register adds "/" and "/ws/stats" to r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/", h.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/ws/stats", h.hub.ServeWS).Methods(http.MethodGet)
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, h.data); err != nil {
		log.Error().Err(err).Msg("Failed to render page")
	}
}
