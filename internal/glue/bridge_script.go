package glue

// bridgeJS builds the namespaced global. It is wrapped in a call that
// passes the namespace name. Native hooks (__bridgeCall, __bridgeBind, ...)
// are looked up lazily so the static part can be evaluated before they are
// registered.
const bridgeJS = `
(function(NS) {
	'use strict';
	if (globalThis[NS]) return;

	var hasOwn = Object.prototype.hasOwnProperty;
	var pendingCalls = {};
	var pendingBinds = {};
	var api = {};

	function createPromise() {
		var h = {};
		h.promise = new Promise(function(resolve, reject) {
			h.resolve = resolve;
			h.reject = reject;
		});
		return h;
	}

	function bytesToBase64(bytes) {
		var parts = [];
		for (var i = 0; i < bytes.length; i += 8192) {
			parts.push(String.fromCharCode.apply(null, bytes.subarray(i, Math.min(i + 8192, bytes.length))));
		}
		return btoa(parts.join(''));
	}

	function base64ToBytes(b64) {
		var raw = atob(b64);
		var out = new Uint8Array(raw.length);
		for (var i = 0; i < raw.length; i++) out[i] = raw.charCodeAt(i);
		return out;
	}

	function utf8Decode(b) {
		if (typeof TextDecoder === 'function') return new TextDecoder().decode(b);
		var units = [], i = 0;
		while (i < b.length) {
			var c = b[i++];
			if (c < 0x80) {
				units.push(c);
			} else if (c < 0xe0) {
				units.push(((c & 0x1f) << 6) | (b[i++] & 0x3f));
			} else if (c < 0xf0) {
				units.push(((c & 0x0f) << 12) | ((b[i++] & 0x3f) << 6) | (b[i++] & 0x3f));
			} else {
				var cp = ((c & 0x07) << 18) | ((b[i++] & 0x3f) << 12) | ((b[i++] & 0x3f) << 6) | (b[i++] & 0x3f);
				cp -= 0x10000;
				units.push(0xd800 + (cp >> 10), 0xdc00 + (cp & 0x3ff));
			}
		}
		var s = '';
		for (var j = 0; j < units.length; j += 8192) {
			s += String.fromCharCode.apply(null, units.slice(j, j + 8192));
		}
		return s;
	}

	// Payloads are staged by the host as a string or, when large, as an
	// ArrayBuffer holding UTF-8.
	function takePayload() {
		var p = globalThis.__bridge_payload;
		delete globalThis.__bridge_payload;
		if (p instanceof ArrayBuffer) return utf8Decode(new Uint8Array(p));
		return p === undefined ? '' : p;
	}

	function reviveString(s) {
		if (s.length === 0) return s;
		var rest = s.substring(1);
		switch (s.charAt(0)) {
		case 'S':
			return rest;
		case 'D':
			return new Date(rest.replace(/\.(\d+)/, function(_, f) {
				return '.' + (f + '00').substring(0, 3);
			}));
		case 'B':
			return base64ToBytes(rest);
		case 'I':
			return typeof BigInt === 'function' ? BigInt(rest) : Number(rest);
		}
		return s;
	}

	function unescapeKey(k) {
		return k.charAt(0) === '$' && k.charAt(1) === '$' ? k.substring(1) : k;
	}

	function escapeKey(k) {
		return k.charAt(0) === '$' ? '$' + k : k;
	}

	// parse revives a wire value. The walk keeps its own stack so nesting
	// depth is not bounded by the engine's call stack. References to ids
	// that are not known yet (engines enumerate integer-like keys first)
	// are patched once the whole tree has been walked.
	function parse(text) {
		if (text === undefined || text === null || text === '') return null;
		var byId = {};
		var pendingRefs = [];
		var box = {};
		var stack = [{ node: JSON.parse(text), holder: box, key: 'root' }];

		while (stack.length) {
			var task = stack.pop();
			var node = task.node, holder = task.holder, key = task.key;
			var i;
			if (typeof node === 'string') {
				holder[key] = reviveString(node);
				continue;
			}
			if (node === null || typeof node !== 'object') {
				holder[key] = node;
				continue;
			}
			if (Array.isArray(node)) {
				var plain = new Array(node.length);
				holder[key] = plain;
				for (i = node.length - 1; i >= 0; i--) stack.push({ node: node[i], holder: plain, key: i });
				continue;
			}
			if (hasOwn.call(node, '$ref')) {
				var target = byId[node.$ref];
				if (target === undefined) {
					holder[key] = null;
					pendingRefs.push({ holder: holder, key: key, ref: node.$ref });
				} else {
					holder[key] = target;
				}
				continue;
			}
			var id = node.$id;
			if (hasOwn.call(node, '$values')) {
				var vs = node.$values;
				var list = new Array(vs.length);
				if (id !== undefined) byId[id] = list;
				holder[key] = list;
				for (i = vs.length - 1; i >= 0; i--) stack.push({ node: vs[i], holder: list, key: i });
				continue;
			}
			var obj = {};
			if (id !== undefined) byId[id] = obj;
			holder[key] = obj;
			var keys = [];
			for (var k in node) {
				if (hasOwn.call(node, k) && k !== '$id') keys.push(k);
			}
			for (i = keys.length - 1; i >= 0; i--) {
				stack.push({ node: node[keys[i]], holder: obj, key: unescapeKey(keys[i]) });
			}
		}

		for (var p = 0; p < pendingRefs.length; p++) {
			var r = pendingRefs[p];
			var t = byId[r.ref];
			if (t === undefined) throw new Error('unresolved reference ' + r.ref);
			r.holder[r.key] = t;
		}
		return box.root;
	}

	// scalar encodes everything that is not a container. It returns
	// undefined for objects and arrays.
	function scalar(v) {
		if (v === undefined || v === null) return 'null';
		switch (typeof v) {
		case 'string':
			return JSON.stringify('S' + v);
		case 'number':
			return isFinite(v) ? String(v) : 'null';
		case 'boolean':
			return v ? 'true' : 'false';
		case 'bigint':
			return JSON.stringify('I' + v.toString());
		case 'function':
		case 'symbol':
			return 'null';
		}
		if (v instanceof Date) {
			return isNaN(v.getTime()) ? 'null' : JSON.stringify('D' + v.toISOString());
		}
		if (v instanceof ArrayBuffer) return JSON.stringify('B' + bytesToBase64(new Uint8Array(v)));
		if (ArrayBuffer.isView(v)) {
			return JSON.stringify('B' + bytesToBase64(new Uint8Array(v.buffer, v.byteOffset, v.byteLength)));
		}
		return undefined;
	}

	// stringify writes the wire form directly so "$id" always precedes the
	// members it numbers, whatever order the engine enumerates keys in.
	// Pending work is either a value or literal text; containers push their
	// closing text first so output stays in document order.
	function stringify(value) {
		var ids = new Map();
		var next = 0;
		var out = [];
		var stack = [{ v: value }];

		while (stack.length) {
			var task = stack.pop();
			if (task.lit !== undefined) {
				out.push(task.lit);
				continue;
			}
			var v = task.v;
			var s = scalar(v);
			if (s !== undefined) {
				out.push(s);
				continue;
			}
			if (ids.has(v)) {
				out.push('{"$ref":"' + ids.get(v) + '"}');
				continue;
			}
			var id = ++next;
			ids.set(v, id);
			var i;
			if (Array.isArray(v)) {
				out.push('{"$id":"' + id + '","$values":[');
				stack.push({ lit: ']}' });
				for (i = v.length - 1; i >= 0; i--) {
					stack.push({ v: v[i] });
					if (i > 0) stack.push({ lit: ',' });
				}
				continue;
			}
			out.push('{"$id":"' + id + '"');
			stack.push({ lit: '}' });
			var keys = Object.keys(v);
			for (i = keys.length - 1; i >= 0; i--) {
				var m = v[keys[i]];
				if (m === undefined || typeof m === 'function' || typeof m === 'symbol') continue;
				stack.push({ v: m });
				stack.push({ lit: ',' + JSON.stringify(escapeKey(keys[i])) + ':' });
			}
		}
		return out.join('');
	}

	function errorText(e) {
		if (e === null || e === undefined) return String(e);
		var msg = e.message !== undefined ? String(e.message) : String(e);
		return e.stack ? msg + '\n' + e.stack : msg;
	}

	function report(e) {
		var name = (e && e.name) ? String(e.name) : 'Error';
		var msg = (e && e.message !== undefined) ? String(e.message) : String(e);
		var stack = (e && e.stack) ? String(e.stack) : '';
		__bridgeReportError(name, msg, stack);
	}

	api.createPromise = createPromise;
	api.parse = parse;
	api.stringify = stringify;

	api.checkObjectBound = function(name) {
		var h = createPromise();
		name = String(name);
		if (hasOwn.call(globalThis, name)) {
			h.resolve(true);
			return h.promise;
		}
		var id;
		try {
			id = __bridgeBind(name);
		} catch (e) {
			h.reject(e);
			return h.promise;
		}
		if (id === '0') h.resolve(true);
		else pendingBinds[id] = h;
		return h.promise;
	};

	api.deleteObjectBound = function(name) {
		name = String(name);
		try { delete globalThis[name]; } catch (e) {}
		__bridgeUnbind(name);
	};

	function define(target, name, value) {
		Object.defineProperty(target, name, {
			value: value,
			enumerable: false,
			writable: false,
			configurable: true
		});
	}

	api.__materialize = function(name, methods) {
		var obj = {};
		methods.forEach(function(m) {
			define(obj, m, function() {
				return api.__call(name, m, Array.prototype.slice.call(arguments));
			});
		});
		define(globalThis, name, obj);
	};

	api.__unbind = function(name) {
		try { delete globalThis[name]; } catch (e) {}
	};

	api.__call = function(obj, method, args) {
		var h = createPromise();
		var id;
		try {
			id = __bridgeCall(obj, method, stringify(args));
		} catch (e) {
			h.reject(e);
			return h.promise;
		}
		pendingCalls[id] = h;
		return h.promise;
	};

	api.__settle = function(id, ok) {
		var payload = takePayload();
		var h = pendingCalls[id];
		if (!h) return false;
		delete pendingCalls[id];
		if (!ok) {
			h.reject(new Error(payload));
			return true;
		}
		try {
			h.resolve(parse(payload));
		} catch (e) {
			h.reject(e);
		}
		return true;
	};

	api.__resolveBind = function(id, bound) {
		var h = pendingBinds[id];
		if (!h) return false;
		delete pendingBinds[id];
		h.resolve(bound);
		return true;
	};

	api.__evaluate = function(id, url, line) {
		var src = takePayload();
		var respond = id !== '0';

		function fail(e) {
			if (respond) __bridgeEvalDone(id, false, errorText(e));
			else report(e);
		}
		function succeed(v) {
			if (!respond) return;
			var text;
			try {
				text = stringify(v);
			} catch (e) {
				fail(e);
				return;
			}
			__bridgeEvalDone(id, true, text);
		}

		var pad = '';
		for (var i = 1; i < line; i++) pad += '\n';
		var result;
		try {
			result = (0, eval)(pad + src + (url ? '\n//# sourceURL=' + url : ''));
		} catch (e) {
			fail(e);
			return;
		}
		if (result !== null && typeof result === 'object' && typeof result.then === 'function') {
			result.then(succeed, fail);
		} else {
			succeed(result);
		}
	};

	api.__run = function(url) {
		var src = takePayload();
		try {
			(0, eval)(src + (url ? '\n//# sourceURL=' + url : ''));
		} catch (e) {
			report(e);
		}
	};

	api.__report = report;
	api.__pendingCalls = function() { return Object.keys(pendingCalls).length; };

	globalThis.reportError = report;
	Object.defineProperty(globalThis, NS, {
		value: api,
		enumerable: false,
		writable: false,
		configurable: false
	});
})`
