package api

const viewerHTML = `<!DOCTYPE html>
<html>
<head>
    <title>viewcast - Live Stream</title>
    <style>
        body { margin: 0; background: #1a1a1a; display: flex; flex-direction: column; align-items: center; min-height: 100vh; padding: 20px; box-sizing: border-box; }
        #controls { display: flex; gap: 10px; margin-bottom: 10px; width: 100%; max-width: 1200px; }
        #url-input { flex: 1; padding: 8px 12px; border-radius: 4px; border: none; font-size: 14px; }
        #go-btn, #new-tab-btn { padding: 8px 16px; background: #4a90d9; color: white; border: none; border-radius: 4px; cursor: pointer; }
        #go-btn:hover, #new-tab-btn:hover { background: #3a80c9; }
        #tab-strip { display: flex; gap: 6px; margin-bottom: 10px; width: 100%; max-width: 1200px; flex-wrap: wrap; }
        .tab { display: flex; align-items: center; gap: 6px; padding: 5px 10px; background: #2a2a2a; color: #ccc; border-radius: 4px; cursor: pointer; font-family: sans-serif; font-size: 12px; max-width: 220px; }
        .tab.active { background: #4a90d9; color: white; }
        .tab-title { overflow: hidden; text-overflow: ellipsis; white-space: nowrap; }
        .tab-close { cursor: pointer; opacity: 0.7; }
        .tab-close:hover { opacity: 1; }
        img { max-width: 100%; max-height: calc(100vh - 140px); border: 1px solid #333; }
        #status { position: fixed; top: 10px; right: 10px; color: #0f0; font-family: monospace; background: rgba(0,0,0,0.7); padding: 5px 10px; border-radius: 4px; }
        #current-url { color: #888; font-family: monospace; font-size: 12px; margin-bottom: 10px; }
    </style>
</head>
<body>
    <div id="controls">
        <input type="text" id="url-input" placeholder="Enter URL..." />
        <button id="go-btn">Go</button>
        <button id="new-tab-btn">+</button>
    </div>
    <div id="tab-strip"></div>
    <div id="current-url">-</div>
    <div id="status">Connecting...</div>
    <img id="screen" />
    <script>
        const img = document.getElementById('screen');
        const status = document.getElementById('status');
        const currentUrlEl = document.getElementById('current-url');
        const urlInput = document.getElementById('url-input');
        const goBtn = document.getElementById('go-btn');
        const newTabBtn = document.getElementById('new-tab-btn');
        const tabStrip = document.getElementById('tab-strip');
        let frameCount = 0;

        async function navigate(url) {
            if (!url.startsWith('http')) url = 'https://' + url;
            await fetch('/navigate?url=' + encodeURIComponent(url));
            fetchTabs();
        }

        goBtn.onclick = () => navigate(urlInput.value);
        urlInput.onkeydown = (e) => { if (e.key === 'Enter') navigate(urlInput.value); };
        newTabBtn.onclick = async () => { await fetch('/tabs/new'); fetchTabs(); };

        function renderTabs(tabs) {
            tabStrip.textContent = '';
            for (const tab of tabs) {
                const el = document.createElement('div');
                el.className = tab.is_active ? 'tab active' : 'tab';
                el.onclick = async () => { await fetch('/tabs/switch?id=' + tab.id); fetchTabs(); };

                const title = document.createElement('span');
                title.className = 'tab-title';
                title.textContent = tab.title || tab.url;
                el.appendChild(title);

                if (tabs.length > 1) {
                    const close = document.createElement('span');
                    close.className = 'tab-close';
                    close.textContent = '×';
                    close.onclick = async (e) => {
                        e.stopPropagation();
                        await fetch('/tabs/close?id=' + tab.id);
                        fetchTabs();
                    };
                    el.appendChild(close);
                }
                tabStrip.appendChild(el);
            }
        }

        async function fetchTabs() {
            try {
                const response = await fetch('/tabs');
                const data = await response.json();
                if (data.tabs) renderTabs(data.tabs);
            } catch (e) { /* strip refreshes on the next cycle */ }
        }

        async function fetchFrame() {
            try {
                const response = await fetch('/live-stream');
                const data = await response.json();

                if (data.frame) {
                    img.src = 'data:image/jpeg;base64,' + data.frame;
                    frameCount++;
                    status.textContent = 'Frames: ' + frameCount;
                    if (data.url) {
                        currentUrlEl.textContent = data.url;
                        if (document.activeElement !== urlInput) urlInput.value = data.url;
                    }
                } else if (data.error) {
                    status.textContent = 'Error: ' + data.error;
                }
            } catch (e) {
                status.textContent = 'Error: ' + e.message;
            }

            setTimeout(fetchFrame, 100);
        }

        status.textContent = 'Connected';
        fetchFrame();
        fetchTabs();
        setInterval(fetchTabs, 2000);
    </script>
</body>
</html>`
