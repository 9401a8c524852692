package wsbridge

// indexHTML is the browser demo client. It speaks the same JSON frames as
// any other WebSocket client: {"message","sequence"} out,
// {"message","sequence","total_pings"} back.
const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Pingmesh WebSocket Ping</title>
    <style>
        body { font-family: Arial; max-width: 800px; margin: 50px auto; padding: 20px; }
        button { padding: 10px 20px; font-size: 16px; margin: 5px; cursor: pointer; }
        #output { background: #f4f4f4; padding: 15px; border-radius: 5px; height: 400px; overflow-y: auto; font-family: monospace; }
    </style>
</head>
<body>
    <h1>Pingmesh WebSocket Ping</h1>
    <p><strong>Same ping handler that serves the mesh clients!</strong></p>
    <button id="connect">Connect</button>
    <button id="ping" disabled>Send Ping</button>
    <button id="ping10" disabled>Send 10 Pings</button>
    <pre id="output"></pre>

    <script>
        let ws = null;
        let pingCount = 0;
        const output = document.getElementById('output');

        function log(msg) {
            output.textContent += msg + '\n';
            output.scrollTop = output.scrollHeight;
        }

        document.getElementById('connect').onclick = () => {
            ws = new WebSocket('ws://' + location.host + '/ws');
            ws.onopen = () => {
                log('Connected');
                document.getElementById('connect').disabled = true;
                document.getElementById('ping').disabled = false;
                document.getElementById('ping10').disabled = false;
            };
            ws.onmessage = (e) => {
                const pong = JSON.parse(e.data);
                log('PONG #' + pong.sequence + ': ' + pong.message + ' (total: ' + pong.total_pings + ')');
            };
            ws.onclose = () => {
                log('Disconnected');
                document.getElementById('connect').disabled = false;
                document.getElementById('ping').disabled = true;
                document.getElementById('ping10').disabled = true;
            };
        };

        document.getElementById('ping').onclick = () => {
            pingCount++;
            const ping = { message: 'Hello from browser #' + pingCount, sequence: pingCount };
            ws.send(JSON.stringify(ping));
            log('PING #' + pingCount);
        };

        document.getElementById('ping10').onclick = async () => {
            for (let i = 0; i < 10; i++) {
                pingCount++;
                const ping = { message: 'Hello from browser #' + pingCount, sequence: pingCount };
                ws.send(JSON.stringify(ping));
                log('PING #' + pingCount);
                await new Promise(r => setTimeout(r, 500));
            }
        };
    </script>
</body>
</html>`
