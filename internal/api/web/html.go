package web

const indexHTML = `<!DOCTYPE html>
<html lang="ru">
<head>
<meta charset="utf-8">
<title>Станция визуального контроля</title>
<style>
  body { font-family: sans-serif; background: #1e1e1e; color: #eee; margin: 0; display: flex; gap: 16px; padding: 16px; }
  #video { flex: 3; background: #000; min-height: 480px; display: flex; align-items: center; justify-content: center; }
  #video img { max-width: 100%; }
  #side { flex: 1; display: flex; flex-direction: column; gap: 12px; }
  .stats { display: grid; grid-template-columns: auto auto; gap: 6px 12px; font-size: 20px; }
  .num { font-family: monospace; font-size: 28px; text-align: right; }
  .ok { color: #3c3; } .ng { color: #e33; }
  button { font-size: 18px; padding: 10px; border: 0; border-radius: 4px; cursor: pointer; }
  #start { background: #2e7d32; color: #fff; } #stop { background: #c62828; color: #fff; }
  #log { background: #111; font-family: monospace; height: 260px; overflow-y: auto; padding: 6px; }
  #state { font-weight: bold; }
</style>
</head>
<body>
<div id="video"><img src="/stream" alt="Видео"></div>
<div id="side">
  <div>Состояние: <span id="state">-</span></div>
  <button id="start">СТАРТ</button>
  <button id="stop">СТОП</button>
  <div class="stats">
    <span>Всего</span><span class="num" id="total">0</span>
    <span class="ok">Годных (OK)</span><span class="num ok" id="ok">0</span>
    <span class="ng">Брак (NG)</span><span class="num ng" id="ng">0</span>
    <span>Выход годных</span><span class="num" id="yield">0.0%</span>
  </div>
  <div>Журнал</div>
  <div id="log"></div>
</div>
<script>
function render(stats, rate) {
  document.getElementById('total').textContent = stats.total;
  document.getElementById('ok').textContent = stats.ok;
  document.getElementById('ng').textContent = stats.ng;
  document.getElementById('yield').textContent = rate.toFixed(1) + '%';
}
function logLine(e) {
  const log = document.getElementById('log');
  const row = document.createElement('div');
  row.textContent = e.line;
  row.className = e.verdict === 'NG' ? 'ng' : 'ok';
  log.prepend(row);
}
function refresh() {
  fetch('/api/status').then(r => r.json()).then(s => {
    document.getElementById('state').textContent = s.state;
    render(s.stats, s.yield_rate);
    document.getElementById('log').innerHTML = '';
    s.recent.slice().reverse().forEach(logLine);
  });
}
function post(path) {
  fetch(path, {method: 'POST'}).then(r => r.json()).then(b => {
    if (b.error) { alert(b.error); }
    refresh();
  });
}
document.getElementById('start').onclick = () => post('/api/start');
document.getElementById('stop').onclick = () => post('/api/stop');
const es = new EventSource('/api/events/stream');
es.onmessage = m => {
  const u = JSON.parse(m.data);
  if (u.type === 'state') { document.getElementById('state').textContent = u.state; }
  if (u.type === 'inspection') { render(u.event.stats, u.event.yield_rate); logLine(u.event); }
};
refresh();
</script>
</body>
</html>
`
