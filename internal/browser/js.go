package browser

// resolveJS finds the element addressed by a crawler.Ref. querySelectorAll
// returns document order, which is what refs index into.
const resolveJS = `function resolveRef(ref) {
	let root = document;
	if (ref.scope) {
		root = resolveRef(ref.scope);
		if (!root) return null;
	}
	return root.querySelectorAll(ref.selector)[ref.index] || null;
}`

const resolveElementJS = `(ref) => {
	` + resolveJS + `
	return resolveRef(ref);
}`

// queryJS describes every match of selector inside scope.
const queryJS = `(selector, scope) => {
	` + resolveJS + `
	function visible(el) {
		const st = getComputedStyle(el);
		if (st.display === 'none' || st.visibility === 'hidden') return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 || r.height > 0;
	}
	const root = scope ? resolveRef(scope) : document;
	if (!root) throw new Error('scope element no longer attached');
	return Array.from(root.querySelectorAll(selector)).map(el => {
		const attrs = {};
		for (const a of el.attributes) attrs[a.name] = a.value;
		// :disabled also covers controls inside a disabled fieldset.
		if (el.matches(':disabled') && !('disabled' in attrs)) attrs.disabled = '';
		return {
			tag: el.tagName.toLowerCase(),
			attrs: attrs,
			text: (el.innerText || el.textContent || el.value || '').trim().slice(0, 200),
			visible: visible(el),
			options: el.tagName === 'SELECT' ? el.options.length : 0,
		};
	});
}`

const hrefsJS = `() => Array.from(document.querySelectorAll('a[href]')).map(a => a.href)`

// selectIndexJS runs with this bound to a <select>.
const selectIndexJS = `(i) => {
	if (i >= this.options.length) throw new Error('option ' + i + ' out of range');
	this.selectedIndex = i;
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
}`

// controlsVisibleJS counts rendered controls; client-rendered apps show none
// until hydration finishes.
const controlsVisibleJS = `() => {
	let visible = 0;
	document.querySelectorAll('button, [role="button"], input:not([type="hidden"]), textarea, select, a[href]').forEach(el => {
		if (el.offsetParent) visible++;
	});
	return visible;
}`

// detectSPAJS checks for common client-side framework markers.
const detectSPAJS = `() => {
	if (window.__REACT_DEVTOOLS_GLOBAL_HOOK__ || document.querySelector('[data-reactroot]') || document.querySelector('#__next')) return true;
	if (window.__VUE__ || document.querySelector('[data-v-app]')) return true;
	if (window.ng || document.querySelector('[ng-version]') || document.querySelector('app-root')) return true;
	if (document.querySelector('[class*="svelte-"]')) return true;
	return false;
}`
