package visualgrid

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kidandcat/bankcheck/pkg/eyes"
)

// verdict compares a checkpoint with its baseline. A non-nil error means the
// checkpoint could not be evaluated at all.
func verdict(baseline, current eyes.Checkpoint, threshold float64) (eyes.Status, string, error) {
	if current.MatchLevel == eyes.Layout {
		a, err := skeleton(baseline.DOM, current.Region)
		if err != nil {
			return eyes.Failed, "", err
		}
		b, err := skeleton(current.DOM, current.Region)
		if err != nil {
			return eyes.Failed, "", err
		}
		if a != b {
			return eyes.Unresolved, "layout differs from baseline", nil
		}
		return eyes.Passed, "", nil
	}

	if current.Region == "" && len(baseline.Image) > 0 && len(current.Image) > 0 {
		diff, err := compareImages(baseline.Image, current.Image)
		if err != nil {
			return eyes.Failed, "", err
		}
		if diff > threshold {
			return eyes.Unresolved, fmt.Sprintf("screenshot differs from baseline by %.2f%% (threshold: %.2f%%)", diff*100, threshold*100), nil
		}
		return eyes.Passed, "", nil
	}

	a, err := markup(baseline.DOM, current.Region)
	if err != nil {
		return eyes.Failed, "", err
	}
	b, err := markup(current.DOM, current.Region)
	if err != nil {
		return eyes.Failed, "", err
	}
	if a != b {
		return eyes.Unresolved, "content differs from baseline", nil
	}
	return eyes.Passed, "", nil
}

// compareImages returns the fraction of pixels that differ. Images of
// different sizes differ entirely.
func compareImages(baseline, current []byte) (float64, error) {
	baselineImg, err := png.Decode(bytes.NewReader(baseline))
	if err != nil {
		return 0, fmt.Errorf("decoding baseline: %w", err)
	}
	currentImg, err := png.Decode(bytes.NewReader(current))
	if err != nil {
		return 0, fmt.Errorf("decoding screenshot: %w", err)
	}

	bounds := baselineImg.Bounds()
	if bounds != currentImg.Bounds() {
		return 1.0, nil
	}
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return 0, nil
	}

	different := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if !colorsEqual(baselineImg.At(x, y), currentImg.At(x, y)) {
				different++
			}
		}
	}
	return float64(different) / float64(total), nil
}

func colorsEqual(c1, c2 color.Color) bool {
	r1, g1, b1, a1 := c1.RGBA()
	r2, g2, b2, a2 := c2.RGBA()
	return r1 == r2 && g1 == g2 && b1 == b2 && a1 == a2
}

func scope(dom, region string) (*goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(dom))
	if err != nil {
		return nil, fmt.Errorf("parsing dom: %w", err)
	}
	if region == "" {
		return doc.Selection, nil
	}
	sel := doc.Find(region).First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("region %q not found", region)
	}
	return sel, nil
}

// markup is the parsed and re-serialized DOM, so formatting noise in the
// source does not count as a difference.
func markup(dom, region string) (string, error) {
	sel, err := scope(dom, region)
	if err != nil {
		return "", err
	}
	return goquery.OuterHtml(sel)
}

// skeleton renders the tag and class structure of the DOM, ignoring text and
// other attributes.
func skeleton(dom, region string) (string, error) {
	sel, err := scope(dom, region)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if region == "" {
		writeSkeleton(&b, sel.Children())
	} else {
		writeSkeleton(&b, sel)
	}
	return b.String(), nil
}

var ignoredTags = map[string]bool{"script": true, "style": true, "noscript": true, "template": true}

func writeSkeleton(b *strings.Builder, sel *goquery.Selection) {
	sel.Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		if ignoredTags[name] {
			return
		}
		b.WriteString(name)
		if class, ok := s.Attr("class"); ok {
			classes := strings.Fields(class)
			sort.Strings(classes)
			for _, c := range classes {
				b.WriteByte('.')
				b.WriteString(c)
			}
		}
		b.WriteByte('(')
		writeSkeleton(b, s.Children())
		b.WriteByte(')')
	})
}
