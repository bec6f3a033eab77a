package internal

import (
	"fmt"
	"math"
)

// 回合提示：從第 2 回合起，每回合附帶一條關於秘密數字的數學提示，
// 提示種類按固定順序輪換。提示只由回合編號與秘密數字決定
// （同樣的輸入永遠得到同樣的提示），方便排查與測試。
//
// 每條提示只透露一個不足以直接推出答案的性質。

// 提示種類的輪換順序（第 2 回合從頭開始）
var hintCycle = []string{"parity", "prime", "factors", "mod", "sumdiff"}

// hintForRound 計算指定回合的提示
//
// 第 1 回合範圍只有 [1, 10]，不給提示。
func hintForRound(roundNumber, secret int) (string, string) {
	if roundNumber < 2 {
		return "", "none"
	}

	kind := hintCycle[(roundNumber-2)%len(hintCycle)]
	switch kind {
	case "parity":
		return parityHint(secret), kind
	case "prime":
		return primeHint(secret), kind
	case "factors":
		return factorsHint(secret), kind
	case "mod":
		return modHint(secret), kind
	default:
		return sumdiffHint(secret), kind
	}
}

func parityHint(secret int) string {
	if secret%2 == 0 {
		return "秘密數字是偶數"
	}
	return "秘密數字是奇數"
}

func primeHint(secret int) string {
	if isPrime(secret) {
		return "秘密數字是質數"
	}
	return "秘密數字不是質數"
}

// factorsHint 透露質因數分解的一個性質
//
// 變體以秘密數字本身選取，保持可重現。
func factorsHint(secret int) string {
	if isPrime(secret) {
		return "除了自身沒有其他質因數"
	}

	fac := primeFactors(secret)
	distinct := len(fac)
	total := 0
	smallest := fac[0].p
	for _, f := range fac {
		total += f.exp
		if f.p < smallest {
			smallest = f.p
		}
	}

	switch secret % 3 {
	case 0:
		return fmt.Sprintf("最小的質因數是 %d", smallest)
	case 1:
		return fmt.Sprintf("有 %d 個不同的質因數", distinct)
	default:
		return fmt.Sprintf("質因數總數（含重複）是 %d", total)
	}
}

// modHint 透露對一個小除數的餘數，除數同樣由秘密數字決定
func modHint(secret int) string {
	divisors := []int{3, 4, 5, 6, 7}
	d := divisors[secret%len(divisors)]
	return fmt.Sprintf("秘密數字除以 %d 的餘數是 %d", d, secret%d)
}

func sumdiffHint(secret int) string {
	sum := 0
	for n := secret; n > 0; n /= 10 {
		sum += n % 10
	}
	return fmt.Sprintf("秘密數字的各位數字之和是 %d", sum)
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	r := int(math.Sqrt(float64(n)))
	for d := 3; d <= r; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}

type primeFactor struct {
	p   int
	exp int
}

func primeFactors(n int) []primeFactor {
	var res []primeFactor
	c := n
	e := 0
	for c%2 == 0 {
		c /= 2
		e++
	}
	if e > 0 {
		res = append(res, primeFactor{2, e})
	}
	for p := 3; p*p <= c; p += 2 {
		e = 0
		for c%p == 0 {
			c /= p
			e++
		}
		if e > 0 {
			res = append(res, primeFactor{p, e})
		}
	}
	if c > 1 {
		res = append(res, primeFactor{c, 1})
	}
	return res
}
