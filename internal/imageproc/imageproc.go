// Copyright 2022 Piprate Limited
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package imageproc turns an uploaded image into the fixed family of
// resolution variants the vault stores: the stripped source bytes as
// Original, plus High/Low/Thumbnail re-encoded as WebP and bounded to
// 2560/960/400px on the longest side, never upscaled.
//
// imageproc is a loosely coupled concern: it knows nothing about
// encryption, tags, or storage. Resizing is a plain aspect-fit pass over
// golang.org/x/image/draw with no upscaling.
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"
	xwebp "golang.org/x/image/webp"
)

// Maximum longest-side dimension for each non-original variant.
const (
	ThumbnailMax = 400
	LowMax       = 960
	HighMax      = 2560
)

// MimeWebP is the MIME type reported for every non-Original variant.
const MimeWebP = "image/webp"

// webpQuality is the lossy encode quality used for resized variants.
const webpQuality = 85

// Variant identifies one resolution tier of a processed image.
type Variant string

const (
	VariantOriginal  Variant = "original"
	VariantHigh      Variant = "high"
	VariantLow       Variant = "low"
	VariantThumbnail Variant = "thumbnail"
)

// orderedVariants is the fixed production order of the resized variants,
// high/low/thumbnail descending in size. Process puts Original (the
// stripped source bytes) ahead of them.
var orderedVariants = []struct {
	variant Variant
	maxDim  int
}{
	{VariantHigh, HighMax},
	{VariantLow, LowMax},
	{VariantThumbnail, ThumbnailMax},
}

// VariantBytes pairs a variant tag with its encoded bytes.
type VariantBytes struct {
	Variant Variant
	Bytes   []byte
}

// Processed is the result of processing one uploaded image.
type Processed struct {
	OriginalMime string
	OriginalSize int
	Variants     []VariantBytes
}

// Process strips metadata from raw, decodes it to drive resizing, and
// returns the Original plus High/Low/Thumbnail WebP variants in that order.
// mime must be one of the accepted upload MIME types; it is not validated
// here (the adapter's job), only trusted for source-format dispatch.
func Process(raw []byte, mime string) (*Processed, error) {
	stripped, err := stripMetadata(raw, mime)
	if err != nil {
		return nil, fmt.Errorf("imageproc: strip metadata: %w", err)
	}

	src, _, err := image.Decode(bytes.NewReader(stripped))
	if err != nil {
		// image.Decode already recognizes WebP through the x/image/webp
		// import; a failed decode is retried with that decoder directly.
		src, err = decodeWebP(stripped)
		if err != nil {
			return nil, fmt.Errorf("imageproc: decode: %w", err)
		}
	}

	result := &Processed{
		OriginalMime: mime,
		OriginalSize: len(stripped),
		Variants: []VariantBytes{
			{Variant: VariantOriginal, Bytes: stripped},
		},
	}

	for _, v := range orderedVariants {
		encoded, err := resizeToWebP(src, v.maxDim)
		if err != nil {
			return nil, fmt.Errorf("imageproc: %s variant: %w", v.variant, err)
		}
		result.Variants = append(result.Variants, VariantBytes{Variant: v.variant, Bytes: encoded})
	}

	return result, nil
}

func decodeWebP(raw []byte) (image.Image, error) {
	return xwebp.Decode(bytes.NewReader(raw))
}

// stripMetadata removes EXIF and other ancillary chunks by decoding the
// source and re-encoding it in the same family of format, which drops any
// metadata the decoder doesn't represent in the pixel buffer it returns.
func stripMetadata(raw []byte, mime string) ([]byte, error) {
	switch mime {
	case "image/jpeg":
		img, err := jpeg.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "image/png":
		img, err := png.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "image/webp":
		img, err := decodeWebP(raw)
		if err != nil {
			return nil, err
		}
		return webp.EncodeRGBA(img, webpQuality)
	default:
		return nil, fmt.Errorf("unsupported source mime %q", mime)
	}
}

// resizeToWebP fits src within a maxDim x maxDim box (aspect preserved,
// never upscaled) and encodes the result as WebP.
func resizeToWebP(src image.Image, maxDim int) ([]byte, error) {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	dstW, dstH := fitDimensions(srcW, srcH, maxDim)

	if dstW == srcW && dstH == srcH {
		return webp.EncodeRGBA(src, webpQuality)
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	return webp.EncodeRGBA(dst, webpQuality)
}

// fitDimensions computes the largest dimensions no bigger than maxDim on
// the longest side that preserve src's aspect ratio, never upscaling.
func fitDimensions(srcW, srcH, maxDim int) (int, int) {
	if srcW <= maxDim && srcH <= maxDim {
		return srcW, srcH
	}
	if srcW >= srcH {
		ratio := float64(maxDim) / float64(srcW)
		h := int(float64(srcH) * ratio)
		if h < 1 {
			h = 1
		}
		return maxDim, h
	}
	ratio := float64(maxDim) / float64(srcH)
	w := int(float64(srcW) * ratio)
	if w < 1 {
		w = 1
	}
	return w, maxDim
}
