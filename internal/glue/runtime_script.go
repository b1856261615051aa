package glue

// encodingJS provides atob/btoa in plain JavaScript; QuickJS ships neither.
const encodingJS = `
(function() {
	if (typeof globalThis.btoa === 'function' && typeof globalThis.atob === 'function') return;
	var alphabet = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var lookup = new Int16Array(128).fill(-1);
	for (var i = 0; i < alphabet.length; i++) lookup[alphabet.charCodeAt(i)] = i;

	globalThis.btoa = function(data) {
		if (arguments.length < 1) throw new TypeError('btoa requires 1 argument');
		var s = String(data), out = [];
		for (var i = 0; i < s.length; i += 3) {
			var a = s.charCodeAt(i), b = s.charCodeAt(i + 1), c = s.charCodeAt(i + 2);
			if (a > 255 || b > 255 || c > 255) throw new Error('btoa: character outside of the Latin1 range');
			var has1 = i + 1 < s.length, has2 = i + 2 < s.length;
			b = has1 ? b : 0;
			c = has2 ? c : 0;
			out.push(
				alphabet[a >> 2],
				alphabet[((a & 3) << 4) | (b >> 4)],
				has1 ? alphabet[((b & 15) << 2) | (c >> 6)] : '=',
				has2 ? alphabet[c & 63] : '='
			);
		}
		return out.join('');
	};

	globalThis.atob = function(data) {
		if (arguments.length < 1) throw new TypeError('atob requires 1 argument');
		var s = String(data).replace(/[\t\n\f\r ]/g, '');
		if (s.length % 4 === 0) s = s.replace(/==?$/, '');
		if (s.length % 4 === 1) throw new Error('atob: invalid base64 string');
		var out = [], bits = 0, acc = 0;
		for (var i = 0; i < s.length; i++) {
			var ch = s.charCodeAt(i);
			var v = ch < 128 ? lookup[ch] : -1;
			if (v < 0) throw new Error('atob: invalid base64 string');
			acc = (acc << 6) | v;
			bits += 6;
			if (bits >= 8) {
				bits -= 8;
				out.push(String.fromCharCode((acc >> bits) & 0xff));
			}
		}
		return out.join('');
	};
})();
`

// timersJS installs setTimeout/setInterval on top of __timerRegister and
// __timerClear. Callbacks live in __timerCallbacks keyed by timer id;
// exceptions are reported instead of escaping into the loop.
const timersJS = `
(function() {
	globalThis.__timerCallbacks = {};
	function schedule(fn, delay, args, interval) {
		if (typeof fn !== 'function') return 0;
		var guarded = function() {
			try {
				fn.apply(null, arguments);
			} catch (e) {
				reportError(e);
			}
		};
		var id = __timerRegister(Number(delay) || 0, interval);
		if (id === 0) return 0;
		globalThis.__timerCallbacks[id] = { fn: guarded, args: args, interval: interval };
		return id;
	}
	globalThis.setTimeout = function(fn, delay) {
		return schedule(fn, delay, Array.prototype.slice.call(arguments, 2), false);
	};
	globalThis.setInterval = function(fn, interval) {
		return schedule(fn, interval, Array.prototype.slice.call(arguments, 2), true);
	};
	globalThis.clearTimeout = globalThis.clearInterval = function(id) {
		if (typeof id !== 'number') return;
		__timerClear(id);
		delete globalThis.__timerCallbacks[id];
	};
	globalThis.queueMicrotask = globalThis.queueMicrotask || function(fn) {
		Promise.resolve().then(fn);
	};
})();
`

// consoleJS routes console output to __bridgeLog.
const consoleJS = `
(function() {
	function format(arg) {
		if (typeof arg === 'string') return arg;
		if (arg instanceof Error) return arg.stack ? arg.message + '\n' + arg.stack : String(arg.message);
		if (typeof arg === 'object' && arg !== null) {
			try { return JSON.stringify(arg); } catch (e) { return String(arg); }
		}
		return String(arg);
	}
	var con = {};
	['log', 'info', 'warn', 'error', 'debug', 'trace'].forEach(function(level) {
		con[level] = function() {
			var parts = [];
			for (var i = 0; i < arguments.length; i++) parts.push(format(arguments[i]));
			__bridgeLog(level, parts.join(' '));
		};
	});
	con.assert = function(cond) {
		if (cond) return;
		var rest = Array.prototype.slice.call(arguments, 1);
		con.error.apply(null, ['Assertion failed'].concat(rest));
	};
	globalThis.console = con;
})();
`
