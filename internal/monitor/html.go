package monitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Signage Kiosk Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; }
        .app { max-width: 1100px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .title { font-size: 22px; font-weight: bold; }
        .badge { padding: 4px 10px; border-radius: 12px; background: #444; font-size: 12px; }
        .badge.IDLE { background: #2a7; }
        .badge.AWAITING_ACK { background: #27a; }
        .badge.FAILED { background: #a22; }
        .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 16px; margin-top: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        .panel h2 { margin: 0 0 8px 0; font-size: 16px; }
        .stats { display: grid; grid-template-columns: repeat(2, 1fr); gap: 8px; }
        .stat { background: #262626; border-radius: 6px; padding: 8px; }
        .stat .label { font-size: 11px; color: #999; }
        .stat .value { font-size: 22px; }
        #preview { width: 100%; height: auto; background: #000; }
        #log { font-family: monospace; font-size: 12px; max-height: 260px; overflow-y: auto; }
        #log div { border-bottom: 1px solid #2a2a2a; padding: 2px 0; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Signage Kiosk Monitor</div>
            <span class="badge" id="state-badge">Waiting for data...</span>
        </div>

        <div class="grid">
            <div class="panel">
                <h2>Camera preview</h2>
                <img id="preview" src="/api/snapshot" alt="Camera preview">
            </div>

            <div class="panel">
                <h2>Audience</h2>
                <div class="stats">
                    <div class="stat"><div class="label">People</div><div class="value" id="people">-</div></div>
                    <div class="stat"><div class="label">Unique visitors</div><div class="value" id="unique">-</div></div>
                    <div class="stat"><div class="label">Male</div><div class="value" id="male">-</div></div>
                    <div class="stat"><div class="label">Female</div><div class="value" id="female">-</div></div>
                </div>
                <h2 style="margin-top:12px;">Playback</h2>
                <div class="stats">
                    <div class="stat"><div class="label">Now playing</div><div class="value" id="current-ad">-</div></div>
                    <div class="stat"><div class="label">Interested (last ad)</div><div class="value" id="interested">-</div></div>
                </div>
            </div>

            <div class="panel" style="grid-column: span 2;">
                <h2>Events <span class="badge" id="transport">SSE</span></h2>
                <div id="log"></div>
            </div>
        </div>
    </div>

    <script type="module">
        const $ = (id) => document.getElementById(id);

        function setText(id, v) {
            if (v !== undefined && v !== null) $(id).textContent = v;
        }

        function applyEvent(ev) {
            const f = ev.fields || {};
            if (ev.measurement === 'Demographics') {
                setText('people', f['Total people']);
                setText('male', f['Total male']);
                setText('female', f['Total female']);
                setText('unique', f['Unique visitors']);
            } else if (ev.measurement === 'AdData') {
                setText('current-ad', f.currentAd);
                setText('interested', f.peopleInterested);
            }
            const row = document.createElement('div');
            row.textContent = new Date(ev.time).toLocaleTimeString() + ' ' + ev.measurement + ' ' + JSON.stringify(f);
            const log = $('log');
            log.prepend(row);
            while (log.childElementCount > 100) log.lastChild.remove();
        }

        async function refreshStatus() {
            try {
                const res = await fetch('/api/status');
                const st = await res.json();
                const badge = $('state-badge');
                badge.textContent = st.playback_state;
                badge.className = 'badge ' + st.playback_state;
                if (st.latest_demographics) applyEvent(st.latest_demographics);
            } catch (e) {
                console.warn('status', e);
            }
        }

        async function connectWebRTC() {
            const pc = new RTCPeerConnection({ iceServers: [{ urls: 'stun:stun.l.google.com:19302' }] });
            const dc = pc.createDataChannel('telemetry');
            dc.onmessage = (m) => applyEvent(JSON.parse(m.data));
            await pc.setLocalDescription(await pc.createOffer());
            await new Promise((resolve) => {
                if (pc.iceGatheringState === 'complete') return resolve();
                pc.onicegatheringstatechange = () => pc.iceGatheringState === 'complete' && resolve();
            });
            const res = await fetch('/api/webrtc/offer', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify(pc.localDescription),
            });
            if (!res.ok) throw new Error('offer rejected: ' + res.status);
            await pc.setRemoteDescription(await res.json());
            $('transport').textContent = 'WebRTC';
            return pc;
        }

        function connectSSE() {
            const es = new EventSource('/api/events/stream');
            const handler = (m) => applyEvent(JSON.parse(m.data));
            es.addEventListener('Demographics', handler);
            es.addEventListener('AdData', handler);
            $('transport').textContent = 'SSE';
        }

        refreshStatus();
        setInterval(refreshStatus, 2000);
        setInterval(() => { $('preview').src = '/api/snapshot?t=' + Date.now(); }, 1000);

        if (new URLSearchParams(location.search).has('webrtc')) {
            connectWebRTC().catch((e) => { console.warn(e); connectSSE(); });
        } else {
            connectSSE();
        }
    </script>
</body>
</html>
`
