package browser

import (
	"encoding/json"
	"fmt"

	"github.com/kidandcat/bankcheck/pkg/locator"
)

// queryFunc collects text and visibility for every node matching a css or
// xpath query. It is shared by the chromedp and rod drivers.
const queryFunc = `(kind, query) => {
	let nodes = [];
	if (kind === 'xpath') {
		const r = document.evaluate(query, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (let i = 0; i < r.snapshotLength; i++) nodes.push(r.snapshotItem(i));
	} else {
		nodes = Array.from(document.querySelectorAll(query));
	}
	return nodes.map(n => {
		const style = window.getComputedStyle(n);
		const box = n.getBoundingClientRect();
		return {
			text: n.textContent || '',
			visible: n.isConnected && style.visibility !== 'hidden' && style.display !== 'none' && box.width > 0 && box.height > 0,
		};
	});
}`

// engineQuery maps a locator onto the two engines the in-page script knows.
func engineQuery(l locator.Locator) (kind, query string, err error) {
	if l.Kind == locator.CSS {
		return "css", l.Query, nil
	}
	x, err := l.XPathQuery()
	if err != nil {
		return "", "", err
	}
	return "xpath", x, nil
}

// queryExpression renders queryFunc as a self-invoking expression for
// drivers that evaluate plain expressions.
func queryExpression(l locator.Locator) (string, error) {
	kind, query, err := engineQuery(l)
	if err != nil {
		return "", err
	}
	k, _ := json.Marshal(kind)
	q, _ := json.Marshal(query)
	return fmt.Sprintf("(%s)(%s, %s)", queryFunc, k, q), nil
}
